package cli

import (
	"strings"

	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/model"
	"github.com/glorpus-work/modpak/pkg/orchestrator"
)

// parseSpecifier splits a package specifier like "app^1.2.0" into a name and
// a constraint. The name ends at the first character that cannot be part of
// a package name; a bare name means any version.
func parseSpecifier(text string) (orchestrator.Request, error) {
	text = strings.TrimSpace(text)
	split := len(text)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			continue
		}
		split = i
		break
	}

	name := text[:split]
	constraint := strings.TrimSpace(text[split:])
	if err := model.ValidateName(name); err != nil {
		return orchestrator.Request{}, errors.Wrapf(err, "invalid specifier %q", text)
	}
	if constraint == "" {
		constraint = "*"
	}
	return orchestrator.Request{Name: model.NormalizeName(name), Constraint: constraint}, nil
}

func parseSpecifiers(args []string) ([]orchestrator.Request, error) {
	requests := make([]orchestrator.Request, 0, len(args))
	for _, arg := range args {
		req, err := parseSpecifier(arg)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}
