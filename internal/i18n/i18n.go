// Package i18n localizes user-facing messages. Message files live in
// locales/ and every locale must define the same message IDs.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	bundle      *i18n.Bundle
	defaultLang string
)

// Init loads the embedded locales with lang as the default language.
func Init(lang string) error {
	return load(localeFS, lang)
}

func load(fsys fs.FS, lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}
	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(fsys, "locales/*.json")
	if err != nil {
		return fmt.Errorf("list locales: %w", err)
	}
	ids := make(map[string]map[string]bool, len(files))
	for _, f := range files {
		mf, err := b.LoadMessageFileFS(fsys, f)
		if err != nil {
			return fmt.Errorf("load locale %s: %w", path.Base(f), err)
		}
		set := make(map[string]bool, len(mf.Messages))
		for _, m := range mf.Messages {
			set[m.ID] = true
		}
		ids[mf.Tag.String()] = set
		slog.Debug("loaded locale", "file", path.Base(f), "messages", len(mf.Messages))
	}
	if err := checkComplete(ids, tag.String()); err != nil {
		return err
	}

	bundle, defaultLang = b, tag.String()
	return nil
}

// checkComplete reports locales missing messages the default locale has.
func checkComplete(ids map[string]map[string]bool, def string) error {
	base, ok := ids[def]
	if !ok {
		return fmt.Errorf("no locale file for default language %q", def)
	}
	var problems []string
	for lang, set := range ids {
		var missing []string
		for id := range base {
			if !set[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			problems = append(problems, fmt.Sprintf("%s lacks %s", lang, strings.Join(missing, ", ")))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("incomplete locales: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Languages returns the loaded language tags.
func Languages() []string {
	tags := bundle.LanguageTags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	sort.Strings(out)
	return out
}

// NewLocalizer creates a localizer for the given languages in order of
// preference. Each entry may be a tag or an Accept-Language value.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer)
	if !ok {
		loc = i18n.NewLocalizer(bundle, defaultLang)
	}
	s, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID. Unknown IDs come back unchanged.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message filling its template from data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a plural message. The count is available as {{.Count}}.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}
