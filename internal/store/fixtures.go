package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"nodebulkdelete/internal/node"

	"gopkg.in/yaml.v3"
)

// Fixtures describes site content to load into a record store
type Fixtures struct {
	ContentTypes []node.ContentType `yaml:"content_types"`
	Fields       []FieldFixture     `yaml:"fields"`
	Nodes        []NodeFixture      `yaml:"nodes"`
}

// FieldFixture defines one reference field
type FieldFixture struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// NoRevisionTable leaves node_revision__{name} absent
	NoRevisionTable bool `yaml:"no_revision_table"`
}

// NodeFixture is one node. Created uses the YYYY-MM-DD layout.
type NodeFixture struct {
	ID        int64            `yaml:"id"`
	Type      string           `yaml:"type"`
	Title     string           `yaml:"title"`
	Published *bool            `yaml:"published"`
	Created   string           `yaml:"created"`
	Revisions int              `yaml:"revisions"`
	Alias     string           `yaml:"alias"`
	Refs      map[string]int64 `yaml:"refs"`
}

// LoadFixtures reads fixtures from a YAML file
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return &fx, nil
}

// Seed writes fx into the store and returns the number of nodes inserted
func (s *SQLiteStore) Seed(ctx context.Context, fx *Fixtures) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	for _, ct := range fx.ContentTypes {
		if ct.Label == "" {
			ct.Label = ct.ID
		}
		if err := s.AddContentType(ctx, ct); err != nil {
			return 0, fmt.Errorf("failed to add content type %s: %w", ct.ID, err)
		}
	}

	for _, f := range fx.Fields {
		if err := s.AddReferenceField(ctx, f.Name, f.Type, !f.NoRevisionTable); err != nil {
			return 0, err
		}
	}

	for i, n := range fx.Nodes {
		created, err := time.ParseInLocation(node.DateLayout, n.Created, time.UTC)
		if err != nil {
			return i, fmt.Errorf("node %d: invalid created date %q", n.ID, n.Created)
		}

		published := true
		if n.Published != nil {
			published = *n.Published
		}

		rec := NodeRecord{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Published: published,
			Created:   created.Add(12 * time.Hour),
			Revisions: n.Revisions,
		}
		if err := s.InsertNode(ctx, rec, n.Alias); err != nil {
			return i, err
		}

		for field, target := range n.Refs {
			if err := s.SetFieldValue(ctx, field, n.ID, target); err != nil {
				return i, fmt.Errorf("node %d: failed to set %s: %w", n.ID, field, err)
			}
		}
	}

	return len(fx.Nodes), nil
}
