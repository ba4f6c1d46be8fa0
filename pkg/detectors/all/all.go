// Package all registers every scorer kind with the detectors registry.
package all

import (
	// Register scorer kinds.
	_ "github.com/hed1ad/fishguard/pkg/detectors/iforest"
	_ "github.com/hed1ad/fishguard/pkg/detectors/mae"
	_ "github.com/hed1ad/fishguard/pkg/detectors/ocsvm"
	_ "github.com/hed1ad/fishguard/pkg/detectors/patchcore"
	_ "github.com/hed1ad/fishguard/pkg/detectors/svdd"
)
