package services

import (
	"strings"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/go-playground/validator/v10"
)

// CodeLength 访问码长度
const CodeLength = 5

// CodeAlphabet 访问码字符集
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("accesscode", func(fl validator.FieldLevel) bool {
		return isAccessCode(fl.Field().String())
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return models.Role(fl.Field().String()).Valid()
	})
	return v
}

func isAccessCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for _, r := range s {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// NormalizeCode 去空白并转大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateUserCode 5位字母数字
func ValidateUserCode(code string) bool {
	return validate.Var(code, "required,accesscode") == nil
}

type codeInput struct {
	Code string `validate:"required,accesscode"`
}

type promptInput struct {
	UserCode string `validate:"required,accesscode"`
	Content  string `validate:"notblank"`
}

type turnInput struct {
	ConversationID string `validate:"required"`
	UserCode       string `validate:"required,accesscode"`
	Role           string `validate:"role"`
	Content        string `validate:"notblank"`
}

type adminCodeInput struct {
	Code  string `validate:"required,accesscode"`
	Level string `validate:"oneof=admin super_admin"`
}

// validationError 把 validator 的错误转换为 AppError
func validationError(err error) error {
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewInvalidInputError(fieldName(fe.Field()), ruleMessage(fe.Tag()))
	}
	return apperrors.NewValidationError(err.Error())
}

func fieldName(field string) string {
	switch field {
	case "UserCode":
		return "user_code"
	case "ConversationID":
		return "conversation_id"
	}
	return strings.ToLower(field)
}

func ruleMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "accesscode":
		return "must be exactly 5 alphanumeric characters"
	case "notblank":
		return "must not be empty"
	case "role":
		return "must be one of system, user, assistant"
	case "oneof":
		return "must be one of admin, super_admin"
	}
	return "is invalid"
}
