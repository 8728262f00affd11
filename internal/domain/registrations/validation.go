package registrations

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/sanitize"
)

const (
	msgEmailFormat     = "Adresse email invalide"
	msgBlockedDomain   = "Domaine email non autorisé"
	msgInvalidSource   = "Source invalide"
	msgInvalidMetadata = "Métadonnées doivent être un objet"
)

type emailInput struct {
	Email string `validate:"required,email,max=254"`
}

type createFields struct {
	Email  string `validate:"required,email,max=254"`
	Source string `validate:"oneof=landing_page social_media referral blog direct"`
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) validateCreate(in CreateInput) (string, Source, map[string]any, error) {
	fields := createFields{
		Email:  NormalizeEmail(in.Email),
		Source: strings.TrimSpace(in.Source),
	}
	if fields.Source == "" {
		fields.Source = string(SourceLandingPage)
	}

	problems := map[string]string{}
	if err := s.validate.Struct(fields); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return "", "", nil, errs.Wrap(errs.KindInternal, errs.CodeInternal, errs.MsgInternal, err)
		}
		for _, fe := range verrs {
			switch fe.Field() {
			case "Email":
				problems["email"] = msgEmailFormat
			case "Source":
				problems["source"] = msgInvalidSource
			}
		}
	}
	if _, bad := problems["email"]; !bad && s.isBlockedDomain(fields.Email) {
		problems["email"] = msgBlockedDomain
	}

	metadata, ok := parseMetadata(in.Metadata)
	if !ok {
		problems["metadata"] = msgInvalidMetadata
	}

	if len(problems) > 0 {
		return "", "", nil, errs.Validation(errs.CodeValidation, errs.MsgValidation, problems)
	}
	return fields.Email, Source(fields.Source), sanitize.Metadata(metadata), nil
}

// validEmail normalizes email and reports whether it is a syntactically valid address.
func (s *Service) validEmail(email string) (string, bool) {
	in := emailInput{Email: NormalizeEmail(email)}
	if err := s.validate.Struct(in); err != nil {
		return in.Email, false
	}
	return in.Email, true
}

func (s *Service) isBlockedDomain(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	_, blocked := s.blockedDomains[email[at+1:]]
	return blocked
}

// parseMetadata accepts an absent value, null, or a JSON object.
func parseMetadata(raw []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, true
	}
	if trimmed[0] != '{' {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, false
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, true
}
