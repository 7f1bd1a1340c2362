// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package listing reads instruction listings, the YAML form of a decoded
// code unit consumed by the flowdom CLI, and watches them for changes.
//
//	name: conditional
//	instructions:
//	  - {offset: 0, kind: cond_jump, targets: [2, 3]}
//	  - {offset: 1, kind: jump, targets: [3]}
//	  - {offset: 2, kind: linear}
//	  - {offset: 3, kind: return}
//	handlers: []
package listing

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxListingFileSize is the largest accepted listing file (4MB).
const MaxListingFileSize = 4 * 1024 * 1024

// ErrInvalidListing is returned for listings that cannot be decoded or fail
// validation.
var ErrInvalidListing = errors.New("invalid listing")

var listingValidate = validator.New()

// Listing is one decoded unit of code.
type Listing struct {
	// Name identifies the unit in logs and output.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Instructions in strictly increasing offset order.
	Instructions []bytecode.Instruction `yaml:"instructions" json:"instructions" validate:"required,min=1,dive"`

	// Handlers are offsets that start a block without being jump targets,
	// such as exception handler entries.
	Handlers []int `yaml:"handlers,omitempty" json:"handlers,omitempty" validate:"dive,gte=0"`
}

// Parse decodes and validates a listing.
//
// Errors:
//
//	ErrInvalidListing - Malformed YAML or failed validation
func Parse(data []byte) (*Listing, error) {
	var l Listing
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidListing, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks the listing against its field constraints. Listings
// decoded from other encodings, such as JSON request bodies, must be
// validated before use.
//
// Errors:
//
//	ErrInvalidListing - Wrapping the first failed constraint
func (l *Listing) Validate() error {
	if err := listingValidate.Struct(l); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s fails %q", ErrInvalidListing, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidListing, err)
	}
	return nil
}

// Load reads and parses the listing at path.
func Load(path string) (*Listing, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat listing: %w", err)
	}
	if info.Size() > MaxListingFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d",
			ErrInvalidListing, path, info.Size(), MaxListingFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Blocks partitions the listing into basic blocks, treating Handlers as
// additional block starts.
func (l *Listing) Blocks() ([]*bytecode.BasicBlock, error) {
	return bytecode.Partition(l.Instructions, l.Handlers...)
}
