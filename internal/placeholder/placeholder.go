// Package placeholder implements template placeholder groups: cached,
// lazily-hydrated objects exposing named keys to string values, scoped per
// entity id or per (entity id, viewing user id) for personalized values.
//
// Templates reference values as [group:option], e.g. [event:start_date] or
// [recipient:full_name]. Unknown tokens are left untouched so notification
// bodies degrade visibly instead of silently.
package placeholder

import (
	"context"
	"regexp"
)

// Sentinel strings rendered when the underlying entity has been deleted.
// Audit and history content must still render after the entity is gone.
const (
	UnknownDate = "Unknown date"
	UnknownTime = "Unknown time"
)

// Group exposes a fixed set of named options for one entity.
type Group interface {
	// Options lists the option keys the group can resolve.
	Options() []string

	// Get resolves one option to its string value. Unknown options return
	// ("", false). Deleted underlying entities degrade to sentinel values
	// rather than failing.
	Get(option string) (string, bool)
}

// Loader hydrates a group for a payload and, for personalized groups, the
// viewing recipient.
type Loader func(ctx context.Context, recipientID int64) (Group, error)

// Binding attaches a group name usable in templates to its loader.
type Binding struct {
	// Name is the template group name, e.g. "event", "signup", "recipient".
	Name string

	// Personalized marks groups whose values differ per viewing user.
	Personalized bool

	Load Loader
}

var tokenPattern = regexp.MustCompile(`\[([a-z_]+):([a-z_0-9]+)\]`)

// Render substitutes [group:option] tokens via the lookup function. Tokens
// the lookup cannot resolve stay verbatim.
func Render(template string, lookup func(group, option string) (string, bool)) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		m := tokenPattern.FindStringSubmatch(token)
		if v, ok := lookup(m[1], m[2]); ok {
			return v
		}
		return token
	})
}

// RenderFor hydrates the bound groups for one recipient and renders the
// template. Group hydration errors propagate; they indicate broken bindings,
// not user input.
func RenderFor(ctx context.Context, bindings []Binding, recipientID int64, template string) (string, error) {
	groups := make(map[string]Group, len(bindings))
	var loadErr error

	rendered := Render(template, func(group, option string) (string, bool) {
		if loadErr != nil {
			return "", false
		}
		g, ok := groups[group]
		if !ok {
			b := findBinding(bindings, group)
			if b == nil {
				return "", false
			}
			var err error
			g, err = b.Load(ctx, recipientID)
			if err != nil {
				loadErr = err
				return "", false
			}
			groups[group] = g
		}
		return g.Get(option)
	})
	if loadErr != nil {
		return "", loadErr
	}
	return rendered, nil
}

func findBinding(bindings []Binding, name string) *Binding {
	for i := range bindings {
		if bindings[i].Name == name {
			return &bindings[i]
		}
	}
	return nil
}
