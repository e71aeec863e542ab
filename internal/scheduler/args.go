package scheduler

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/mailsched/mailsched/internal/core"
)

// DecodeArgs decodes loosely typed call arguments into out. Numbers and
// booleans may arrive as strings, and lists as comma separated strings.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// DecodeMailRequest decodes create_mail or update_draft_mail arguments.
func DecodeMailRequest(args map[string]any) (core.MailRequest, error) {
	var req core.MailRequest
	if err := DecodeArgs(args, &req); err != nil {
		return req, err
	}
	req.To = cleanList(req.To)
	req.Cc = cleanList(req.Cc)
	req.Bcc = cleanList(req.Bcc)
	req.References = cleanList(req.References)
	return req, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// normalizeAddress returns the bare address of an RFC 5322 mailbox.
func normalizeAddress(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email address %q", ErrInvalid, raw)
	}
	return addr.Address, nil
}

func normalizeAddresses(list []string) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, raw := range list {
		addr, err := normalizeAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// validateMail checks the sender and recipients of rec and normalizes them
// in place.
func (s *Service) validateMail(rec *core.ScheduleRecord) error {
	from, err := normalizeAddress(rec.FromEmail)
	if err != nil {
		return err
	}
	rec.FromEmail = from

	if len(rec.To)+len(rec.Cc)+len(rec.Bcc) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalid)
	}
	if n := rec.RecipientCount(); n > s.limits.MaxRecipients {
		return fmt.Errorf("%w: %d recipients exceeds the limit of %d", ErrInvalid, n, s.limits.MaxRecipients)
	}
	if rec.To, err = normalizeAddresses(rec.To); err != nil {
		return err
	}
	if rec.Cc, err = normalizeAddresses(rec.Cc); err != nil {
		return err
	}
	if rec.Bcc, err = normalizeAddresses(rec.Bcc); err != nil {
		return err
	}
	if strings.TrimSpace(rec.Subject) == "" && strings.TrimSpace(rec.TextBody) == "" && strings.TrimSpace(rec.HTMLBody) == "" {
		return fmt.Errorf("%w: subject or body is required", ErrInvalid)
	}
	return nil
}
