package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	if err := Validate.RegisterValidation("learning_category", validateLearningCategory); err != nil {
		panic(fmt.Sprintf("failed to register learning_category validator: %v", err))
	}
	if err := Validate.RegisterValidation("learning_date", validateLearningDate); err != nil {
		panic(fmt.Sprintf("failed to register learning_date validator: %v", err))
	}
	if err := Validate.RegisterValidation("learning_action", validateLearningAction); err != nil {
		panic(fmt.Sprintf("failed to register learning_action validator: %v", err))
	}
}

// validateLearningCategory validates that a string is a valid Category enum value
func validateLearningCategory(fl validator.FieldLevel) bool {
	return models.Category(fl.Field().String()).Valid()
}

// validateLearningDate validates that a string is an ISO date or RFC 3339 timestamp
func validateLearningDate(fl validator.FieldLevel) bool {
	_, err := models.NormalizeDate(fl.Field().String())
	return err == nil
}

func validateLearningAction(fl validator.FieldLevel) bool {
	return ValidateAction(fl.Field().String()) == nil
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateCategory validates a Category string value
func ValidateCategory(value string) error {
	if models.Category(value).Valid() {
		return nil
	}
	return fmt.Errorf("invalid category: %s (must be 'course', 'article', 'video', 'project', or 'other')", value)
}

// ValidateAction validates a delta action. "edit" is accepted alongside add and remove.
func ValidateAction(value string) error {
	switch value {
	case string(models.ActionAdd), string(models.ActionRemove), ActionEdit:
		return nil
	default:
		return fmt.Errorf("invalid action: %s (must be 'add', 'remove', or 'edit')", value)
	}
}

// ActionEdit replaces a previously applied record with its new contents
const ActionEdit = "edit"
