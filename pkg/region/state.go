package region

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Sumatoshi-tech/regiontree/pkg/persist"
)

// ErrBadSpaceName is returned by Save and Load for names that cannot be file names.
var ErrBadSpaceName = errors.New("space name is not a valid file name")

// SpaceState is the persisted form of one space.
type SpaceState[V any] struct {
	Name    string      `json:"name"    yaml:"name"`
	Regions []Region[V] `json:"regions" yaml:"regions"`
}

func checkSpaceName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrBadSpaceName, name)
	}

	return nil
}

// Save writes every space to dir as one file per space, named after the
// space with the codec's extension.
func (reg *Registry[V]) Save(dir string, codec persist.Codec) error {
	states, err := reg.states()
	if err != nil {
		return err
	}

	for _, state := range states {
		err = persist.SaveState(dir, state.Name, codec, state)
		if err != nil {
			return fmt.Errorf("save space %q: %w", state.Name, err)
		}
	}

	return nil
}

func (reg *Registry[V]) states() ([]SpaceState[V], error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.hibernated {
		return nil, ErrHibernated
	}

	states := make([]SpaceState[V], 0, len(reg.spaces))

	for name, space := range reg.spaces {
		err := checkSpaceName(name)
		if err != nil {
			return nil, err
		}

		states = append(states, SpaceState[V]{Name: name, Regions: space.Regions()})
	}

	return states, nil
}

// Load inserts the regions of every codec file in dir into the space named
// by the file. Spaces are created as needed; a region that conflicts with
// one already present fails the load. It returns the number of regions
// inserted.
func (reg *Registry[V]) Load(dir string, codec persist.Codec) (int, error) {
	names, err := persist.List(dir, codec)
	if err != nil {
		return 0, err
	}

	loaded := 0

	for _, name := range names {
		var state SpaceState[V]

		err = persist.LoadState(dir, name, codec, &state)
		if err != nil {
			return loaded, err
		}

		if state.Name == "" {
			state.Name = name
		}

		err = checkSpaceName(state.Name)
		if err != nil {
			return loaded, err
		}

		space, spaceErr := reg.Space(state.Name)
		if spaceErr != nil {
			return loaded, spaceErr
		}

		for _, r := range state.Regions {
			_, err = space.Insert(r.Start, r.Size, r.Value)
			if err != nil {
				return loaded, fmt.Errorf("load space %q: %s: %w", state.Name, r, err)
			}

			loaded++
		}
	}

	return loaded, nil
}
