// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Table identifies an entity collection that is replicated between the local
// store and the remote backend. Every change-feed channel is bound to exactly
// one table.
type Table string

const (
	TableCards   Table = "cards"
	TableFolders Table = "folders"
	TableTags    Table = "tags"
	TableImages  Table = "images"
)

// Tables lists every replicated table in dependency order: parents first, so
// that a full sync materialises folders and tags before the cards pointing at
// them and cards before their images.
var Tables = []Table{TableFolders, TableTags, TableCards, TableImages}

// Valid reports whether t names a known table.
func (t Table) Valid() bool {
	return slices.Contains(Tables, t)
}

var (
	// ErrUnknownTable is returned when a table name does not match any
	// replicated entity type.
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidEntity is returned by Validate implementations and by
	// DecodeEntity when a payload does not satisfy its variant's invariants.
	ErrInvalidEntity = errors.New("invalid entity")
)

// SyncEntity holds the replication metadata shared by every entity variant.
//
// SyncVersion is a per-id monotonic revision counter: across any sequence of
// applied writes, local or remote, it never decreases.
type SyncEntity struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SyncVersion int64     `json:"sync_version"`
	PendingSync bool      `json:"pending_sync"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Entity is the tagged union over the replicated record types. Concrete
// variants are *Card, *Folder, *Tag and *Image.
type Entity interface {
	// Table returns the variant tag.
	Table() Table
	// Base exposes the shared replication metadata for reading and writing.
	Base() *SyncEntity
	// ForeignKey returns the parent reference used by indexed owner queries
	// (folder for cards, parent folder for folders, card for images).
	ForeignKey() string
	// SetFields lists JSON field names whose values behave like sets and can
	// be merged by union during conflict resolution.
	SetFields() []string
	// Validate checks variant-specific invariants.
	Validate() error
	// Clone returns a deep copy.
	Clone() Entity
}

func (e *SyncEntity) validateBase() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntity)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: empty user id (id=%s)", ErrInvalidEntity, e.ID)
	}
	if e.SyncVersion < 0 {
		return fmt.Errorf("%w: negative sync version (id=%s)", ErrInvalidEntity, e.ID)
	}
	return nil
}

// Card is a flash card. TagIDs and ImageIDs are set-like.
type Card struct {
	SyncEntity
	FolderID string   `json:"folder_id,omitempty"`
	Front    string   `json:"front"`
	Back     string   `json:"back"`
	TagIDs   []string `json:"tag_ids,omitempty"`
	ImageIDs []string `json:"image_ids,omitempty"`
}

func (c *Card) Table() Table        { return TableCards }
func (c *Card) Base() *SyncEntity   { return &c.SyncEntity }
func (c *Card) ForeignKey() string  { return c.FolderID }
func (c *Card) SetFields() []string { return []string{"tag_ids", "image_ids"} }

func (c *Card) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if !c.IsDeleted && c.Front == "" {
		return fmt.Errorf("%w: card %s has empty front", ErrInvalidEntity, c.ID)
	}
	return nil
}

func (c *Card) Clone() Entity {
	cp := *c
	cp.TagIDs = slices.Clone(c.TagIDs)
	cp.ImageIDs = slices.Clone(c.ImageIDs)
	return &cp
}

// Folder groups cards; folders may nest through ParentID.
type Folder struct {
	SyncEntity
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}

func (f *Folder) Table() Table        { return TableFolders }
func (f *Folder) Base() *SyncEntity   { return &f.SyncEntity }
func (f *Folder) ForeignKey() string  { return f.ParentID }
func (f *Folder) SetFields() []string { return nil }

func (f *Folder) Validate() error {
	if err := f.validateBase(); err != nil {
		return err
	}
	if f.ParentID == f.ID {
		return fmt.Errorf("%w: folder %s is its own parent", ErrInvalidEntity, f.ID)
	}
	if !f.IsDeleted && f.Name == "" {
		return fmt.Errorf("%w: folder %s has empty name", ErrInvalidEntity, f.ID)
	}
	return nil
}

func (f *Folder) Clone() Entity {
	cp := *f
	return &cp
}

// Tag is a user label attached to cards.
type Tag struct {
	SyncEntity
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (t *Tag) Table() Table        { return TableTags }
func (t *Tag) Base() *SyncEntity   { return &t.SyncEntity }
func (t *Tag) ForeignKey() string  { return "" }
func (t *Tag) SetFields() []string { return nil }

func (t *Tag) Validate() error {
	if err := t.validateBase(); err != nil {
		return err
	}
	if !t.IsDeleted && t.Name == "" {
		return fmt.Errorf("%w: tag %s has empty name", ErrInvalidEntity, t.ID)
	}
	return nil
}

func (t *Tag) Clone() Entity {
	cp := *t
	return &cp
}

// Image is binary media metadata attached to a card. The blob itself lives
// behind URL and is not replicated by the engine.
type Image struct {
	SyncEntity
	CardID   string `json:"card_id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

func (i *Image) Table() Table        { return TableImages }
func (i *Image) Base() *SyncEntity   { return &i.SyncEntity }
func (i *Image) ForeignKey() string  { return i.CardID }
func (i *Image) SetFields() []string { return nil }

func (i *Image) Validate() error {
	if err := i.validateBase(); err != nil {
		return err
	}
	if i.IsDeleted {
		return nil
	}
	if i.CardID == "" {
		return fmt.Errorf("%w: image %s has no card", ErrInvalidEntity, i.ID)
	}
	if i.Size < 0 {
		return fmt.Errorf("%w: image %s has negative size", ErrInvalidEntity, i.ID)
	}
	return nil
}

func (i *Image) Clone() Entity {
	cp := *i
	return &cp
}

// NewEntity returns an empty variant for table.
func NewEntity(table Table) (Entity, error) {
	switch table {
	case TableCards:
		return &Card{}, nil
	case TableFolders:
		return &Folder{}, nil
	case TableTags:
		return &Tag{}, nil
	case TableImages:
		return &Image{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}

// DecodeEntity unmarshals raw JSON into the variant selected by table and
// validates it. This is the single entry point for untrusted payloads.
func DecodeEntity(table Table, raw []byte) (Entity, error) {
	e, err := NewEntity(table)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidEntity, table, err)
	}
	if err = e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// EntityFields flattens e into a JSON-keyed field map.
func EntityFields(e Entity) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s entity: %w", e.Table(), err)
	}
	fields := make(map[string]any)
	if err = json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s entity: %w", e.Table(), err)
	}
	return fields, nil
}

// EntityFromFields is the inverse of EntityFields.
func EntityFromFields(table Table, fields map[string]any) (Entity, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", table, err)
	}
	return DecodeEntity(table, raw)
}

// MetadataFields are the SyncEntity keys excluded from content comparison.
var MetadataFields = []string{"sync_version", "pending_sync", "created_at", "updated_at"}
