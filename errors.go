// Copyright © 2020 Jonathan Whitaker <github@whitaker.io>.
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package openivs

import (
	"errors"
	"fmt"
)

// Consumer-misuse sentinels (§7 taxonomy). Checked with errors.Is, matching
// the teacher's own fmt.Errorf("%w") chaining convention.
var (
	ErrNotLoaded        = errors.New("pipeline not loaded")
	ErrImageEmpty       = errors.New("image is empty")
	ErrPackageMalformed = errors.New("package malformed")
	ErrGraphMalformed   = errors.New("graph malformed")
)

// nodeError wraps an error with the id/type of the node that produced it,
// the same "prefix then %w" idiom the teacher uses for Packet errors.
func nodeError(nodeID int, nodeType string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("node %d (%s): %w", nodeID, nodeType, err)
}
