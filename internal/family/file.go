package family

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chorekeep/internal/model"
)

type usersFile struct {
	Users []model.User `yaml:"users"`
}

// LoadFile reads a yaml account roster into a memory repo. The account
// source of truth lives in the main application; this file is the slice of
// it the engine needs.
func LoadFile(path string) (*MemoryRepo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f usersFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	repo := NewMemoryRepo()
	for _, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("parse %s: user with empty id", path)
		}
		if u.Role == "" {
			u.Role = model.RoleChild
		}
		repo.Put(u)
	}
	return repo, nil
}
