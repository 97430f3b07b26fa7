package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for geometry rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	vol := cfg.Volume

	if !isPowerOfTwo(vol.ClusterSize) {
		return fmt.Errorf("volume.cluster_size: %d is not a power of two", vol.ClusterSize)
	}

	// Records and index blocks are protected per sector by the update sequence array
	if vol.RecordSize%mft.SectorSize != 0 {
		return fmt.Errorf("volume.record_size: %d is not a multiple of %d", vol.RecordSize, mft.SectorSize)
	}
	if vol.IndexBufferSize%mft.SectorSize != 0 {
		return fmt.Errorf("volume.index_buffer_size: %d is not a multiple of %d", vol.IndexBufferSize, mft.SectorSize)
	}
	if int64(vol.IndexBufferSize) < vol.ClusterSize {
		return fmt.Errorf("volume.index_buffer_size: %d is smaller than cluster_size %d",
			vol.IndexBufferSize, vol.ClusterSize)
	}

	if cfg.Device.Size < vol.ClusterSize {
		return fmt.Errorf("device.size: %d is smaller than one cluster (%d)", cfg.Device.Size, vol.ClusterSize)
	}

	return nil
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
