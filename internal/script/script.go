// Package script replays YAML scripts of region operations against a
// named address space and checks each step's outcome.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

// Sentinel parse errors.
var (
	ErrNoSteps     = errors.New("script has no steps")
	ErrUnknownOp   = errors.New("unknown op")
	ErrBadQuantity = errors.New("invalid quantity")
	ErrBadExpect   = errors.New("invalid expect")
)

// DefaultSpace is used when a script names no space.
const DefaultSpace = "default"

// Op names a script operation.
type Op string

// Supported operations.
const (
	OpInsert    Op = "insert"
	OpRemove    Op = "remove"
	OpFind      Op = "find"
	OpEnclosing Op = "enclosing"
	OpOccupied  Op = "occupied"
	OpFloor     Op = "floor"
	OpCeil      Op = "ceil"
	OpFirstFit  Op = "first_fit"
	OpDump      Op = "dump"
	OpVerify    Op = "verify"
)

// Mutating reports whether the op can change the tree.
func (op Op) Mutating() bool {
	return op == OpInsert || op == OpRemove
}

func (op Op) valid() bool {
	switch op {
	case OpInsert, OpRemove, OpFind, OpEnclosing, OpOccupied, OpFloor, OpCeil, OpFirstFit, OpDump, OpVerify:
		return true
	}

	return false
}

// Expectation keywords. Any other expect value must be an address.
const (
	ExpectOK     = "ok"
	ExpectFound  = "found"
	ExpectAbsent = "absent"
	ExpectTrue   = "true"
	ExpectFalse  = "false"
)

// expectErrors maps expect keywords to the errors they match.
var expectErrors = map[string]error{
	"zero-size":     region.ErrZeroSize,
	"overflow":      region.ErrAddressOverflow,
	"duplicate":     region.ErrDuplicateAddress,
	"overlap":       region.ErrOverlap,
	"not-found":     region.ErrNotFound,
	"size-mismatch": region.ErrSizeMismatch,
	"no-space":      region.ErrNoSpace,
	"bad-alignment": region.ErrBadAlignment,
}

// Quantity is an address or byte count. It accepts decimal integers,
// 0x/0o/0b prefixed integers and humanized sizes such as "4KiB".
type Quantity uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *Quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: not a scalar", ErrBadQuantity, node.Line)
	}

	parsed, err := ParseQuantity(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*q = Quantity(parsed)

	return nil
}

// String formats the quantity in hex.
func (q Quantity) String() string {
	return fmt.Sprintf("%#x", uint64(q))
}

// ParseQuantity parses an address or size.
func ParseQuantity(raw string) (uint64, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadQuantity)
	}

	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0o") || strings.HasPrefix(lower, "0b") {
		value, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadQuantity, raw)
		}

		return value, nil
	}

	// humanize parses through float64; plain integers must stay exact.
	if isDigits(text) {
		value, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadQuantity, raw)
		}

		return value, nil
	}

	value, err := humanize.ParseBytes(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadQuantity, raw)
	}

	return value, nil
}

func isDigits(text string) bool {
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// Step is one operation in a script. Hi of zero means no upper bound.
type Step struct {
	Op     Op       `yaml:"op"`
	Value  string   `yaml:"value,omitempty"`
	Expect string   `yaml:"expect,omitempty"`
	Addr   Quantity `yaml:"addr,omitempty"`
	Size   Quantity `yaml:"size,omitempty"`
	Align  Quantity `yaml:"align,omitempty"`
	Lo     Quantity `yaml:"lo,omitempty"`
	Hi     Quantity `yaml:"hi,omitempty"`
}

// String renders the step for logs and reports.
func (s Step) String() string {
	switch s.Op {
	case OpInsert, OpRemove, OpFind, OpOccupied:
		return fmt.Sprintf("%s %s+%s", s.Op, s.Addr, s.Size)
	case OpEnclosing, OpFloor, OpCeil:
		return fmt.Sprintf("%s %s", s.Op, s.Addr)
	case OpFirstFit:
		return fmt.Sprintf("%s %s align %s", s.Op, s.Size, s.Align)
	case OpDump, OpVerify:
	}

	return string(s.Op)
}

// Script is a named sequence of steps.
type Script struct {
	Name  string `yaml:"name,omitempty"`
	Space string `yaml:"space,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes and validates a script. Unknown fields are rejected.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var script Script

	err := dec.Decode(&script)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoSteps
		}

		return nil, fmt.Errorf("decode script: %w", err)
	}

	if script.Space == "" {
		script.Space = DefaultSpace
	}

	err = script.validate()
	if err != nil {
		return nil, err
	}

	return &script, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) (*Script, error) {
	return Parse(bytes.NewReader(data))
}

func (s *Script) validate() error {
	if len(s.Steps) == 0 {
		return ErrNoSteps
	}

	for idx, step := range s.Steps {
		if !step.Op.valid() {
			return fmt.Errorf("step %d: %w: %q", idx+1, ErrUnknownOp, step.Op)
		}

		err := checkExpect(step)
		if err != nil {
			return fmt.Errorf("step %d: %w", idx+1, err)
		}
	}

	return nil
}

func checkExpect(step Step) error {
	expect := step.Expect
	if expect == "" {
		return nil
	}

	if _, isErr := expectErrors[expect]; isErr {
		switch step.Op {
		case OpInsert, OpRemove, OpFirstFit:
			return nil
		case OpFind, OpEnclosing, OpOccupied, OpFloor, OpCeil, OpDump, OpVerify:
			return fmt.Errorf("%w: %s cannot fail with %q", ErrBadExpect, step.Op, expect)
		}
	}

	switch step.Op {
	case OpInsert, OpRemove, OpVerify, OpDump:
		if expect == ExpectOK {
			return nil
		}
	case OpOccupied:
		if expect == ExpectTrue || expect == ExpectFalse {
			return nil
		}
	case OpFind, OpEnclosing, OpFloor, OpCeil, OpFirstFit:
		if expect == ExpectFound {
			return nil
		}

		if expect == ExpectAbsent && step.Op != OpFirstFit {
			return nil
		}

		if _, err := ParseQuantity(expect); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %q for %s", ErrBadExpect, expect, step.Op)
}
