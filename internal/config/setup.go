package config

import (
	"errors"
	"strings"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// SetupInput carries the values collected when an account is added
type SetupInput struct {
	Name         string `validate:"omitempty,max=64"`
	ClientID     string
	ClientSecret string
	UseEnv       bool
}

var (
	ErrEnvOnlyDefault     = errors.New("environment variables can only be used for the default account")
	ErrMissingCredentials = errors.New("DingTalk requires clientId and clientSecret")
)

// ValidateSetupInput checks a setup request before it is applied with ApplyAccountConfig
func ValidateSetupInput(accountID string, input SetupInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	if input.UseEnv && accountID != constants.DefaultAccountID {
		return ErrEnvOnlyDefault
	}
	if !input.UseEnv && (strings.TrimSpace(input.ClientID) == "" || strings.TrimSpace(input.ClientSecret) == "") {
		return ErrMissingCredentials
	}
	return nil
}
