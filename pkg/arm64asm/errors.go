package arm64asm

import (
	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/pkg/errors"
)

var (
	errShiftWithWide = errors.Wrap(ierrors.InvalidInput, "cannot have a shift for wide movz")
	errADRPRange     = errors.Wrap(ierrors.InvalidInput, "invalid imm for adrp")
	errADDImm        = errors.Wrap(ierrors.InvalidInput, "invalid imm for add")
	errTargetTooFar  = errors.Wrap(ierrors.InvalidInput, "target too far away")
)
