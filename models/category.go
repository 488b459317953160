package models

import "strings"

// PathSeparator joins ancestor codes in Category.Path.
const PathSeparator = "."

// Category represents a node of the device classification hierarchy.
// A child's Code always begins with its parent's Code and Path is the
// dot-joined chain of ancestor codes from the root down to the node itself.
type Category struct {
	ID       uint   `gorm:"primaryKey"`
	Code     string `gorm:"uniqueIndex;not null"`
	Name     string `gorm:"not null"`
	ParentID *uint  `gorm:"index"`
	Depth    int    `gorm:"not null;default:0"`
	Path     string `gorm:"uniqueIndex;not null"`
}

func (c *Category) TableName() string {
	return "categories"
}

// PathCodes splits Path into its ancestor codes, root first.
func (c *Category) PathCodes() []string {
	if c.Path == "" {
		return nil
	}
	return strings.Split(c.Path, PathSeparator)
}

// IsRoot reports whether the node has no parent.
func (c *Category) IsRoot() bool {
	return c.ParentID == nil
}

// Contains reports whether other is this node or one of its descendants.
func (c *Category) Contains(other *Category) bool {
	return other.Path == c.Path || strings.HasPrefix(other.Path, c.Path+PathSeparator)
}
