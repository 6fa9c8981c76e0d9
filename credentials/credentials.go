// Package credentials supplies per-owner secrets to sessions. Secrets are
// injected into a session when it is created and live only in process
// memory; nothing here writes them anywhere.
package credentials

import (
	"os"

	"github.com/loopworks/valet/errors"
	"gopkg.in/yaml.v3"
)

// Set holds one owner's secrets, keyed by service name (for example
// "tracker"). A nil Set behaves like an empty one.
type Set map[string]string

// Get returns the secret for a service, and whether it exists.
func (s Set) Get(service string) (string, bool) {
	v, ok := s[service]
	return v, ok
}

// Store resolves the credential set for an owner. Implementations must
// return an independent copy per call: sessions own their credentials and
// must never share a map.
type Store interface {
	For(ownerID string) Set
}

// FileStore reads owner credentials from a YAML file of the form:
//
//	owners:
//	  alice:
//	    tracker: "tok_abc123"
type FileStore struct {
	owners map[string]Set
}

// LoadFile parses the credentials file at path.
func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read credentials file %s", path)
	}
	var doc struct {
		Owners map[string]map[string]string `yaml:"owners"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "could not parse credentials file %s", path)
	}
	store := &FileStore{owners: make(map[string]Set, len(doc.Owners))}
	for owner, secrets := range doc.Owners {
		store.owners[owner] = Set(secrets)
	}
	return store, nil
}

// For returns a copy of the owner's credential set. Unknown owners receive
// an empty set rather than an error; tools report the missing secret when
// they actually need it.
func (s *FileStore) For(ownerID string) Set {
	return copySet(s.owners[ownerID])
}

// Static is a fixed in-memory store, used by tests and by single-owner
// terminal mode where the secrets come from the environment.
type Static map[string]Set

// For returns a copy of the owner's credential set.
func (s Static) For(ownerID string) Set {
	return copySet(s[ownerID])
}

func copySet(src Set) Set {
	out := make(Set, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
