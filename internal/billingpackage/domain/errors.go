package domain

import (
	"errors"

	"github.com/smallbiznis/memberhub/internal/billingerror"
)

var (
	ErrNotAllowed      = billingerror.New("not_allowed", "package cannot be renewed", "Dit pakket kan niet verlengd worden.")
	ErrPackageNotFound = billingerror.New("package_not_found", "package not found", "Dit pakket bestaat niet.")
	ErrRenewalPending  = billingerror.New("renewal_pending", "package already has a renewal awaiting payment", "Dit pakket werd al verlengd. De verlenging wacht nog op betaling.")
	ErrInvalidPackage  = errors.New("invalid_package")
)
