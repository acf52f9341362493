package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
)

func (h *Handler) handleReviewPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	a, err := h.store.GetAssignment(sess.AssignmentID)
	if err != nil {
		fail(w, r, fmt.Errorf("get assignment: %w", err))
		return
	}
	student, err := h.store.GetUserByID(sess.StudentID)
	if err != nil {
		fail(w, r, fmt.Errorf("get student: %w", err))
		return
	}
	if a == nil || student == nil {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reviewPage(h.path, a, student, sess).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// reviewPage renders a read-only summary of a session for the teacher.
func reviewPage(path func(string) string, a *model.Assignment, student *model.User, sess *model.VivaSession) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t := func(id string) string { return templ.EscapeString(appI18n.T(ctx, id)) }
		e := templ.EscapeString[string]
		title := appI18n.Td(ctx, "ReviewTitle", map[string]any{"ID": sess.ID})

		p := &printer{w: w}
		p.printf(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title></head><body>`, e(title))
		p.printf(`<h1>%s</h1>`, e(title))
		p.printf(`<dl><dt>%s</dt><dd>%s</dd>`, t("Assignment"), e(a.Title))
		p.printf(`<dt>%s</dt><dd>%s</dd>`, t("Student"), e(student.DisplayName))
		p.printf(`<dt>%s</dt><dd>%s</dd>`, t("SessionType"), e(string(sess.Type)))
		p.printf(`<dt>%s</dt><dd>%s</dd>`, t("Status"), e(string(sess.Status)))
		p.printf(`<dt>%s</dt><dd>%s</dd>`, t("AIScore"), formatScore(sess.AggregateScore))
		p.printf(`<dt>%s</dt><dd>%s</dd></dl>`, t("TeacherScore"), formatScore(sess.TeacherScore))
		if sess.Feedback != "" {
			p.printf(`<h2>%s</h2><p>%s</p>`, t("Feedback"), e(sess.Feedback))
		}
		if sess.TeacherComment != "" {
			p.printf(`<h2>%s</h2><p>%s</p>`, t("TeacherComment"), e(sess.TeacherComment))
		}

		p.printf(`<h2>%s</h2><ol>`, e(appI18n.Tp(ctx, "AnswerCount", len(sess.Answers))))
		for _, ans := range sess.Answers {
			p.printf(`<li><p><strong>%s</strong></p>`, e(ans.Question))
			if ans.Transcript == "" {
				p.printf(`<p><em>%s</em></p>`, t("NoSpeech"))
			} else {
				p.printf(`<blockquote>%s</blockquote>`, e(ans.Transcript))
			}
			p.printf(`<p>%s: %s`, t("AIScore"), formatScore(ans.Score))
			if ans.FinalScore != nil {
				p.printf(` &middot; %s: %s`, t("FinalScore"), formatScore(ans.FinalScore))
			}
			if ans.TeacherScore != nil {
				p.printf(` &middot; %s: %s`, t("TeacherScore"), formatScore(ans.TeacherScore))
			}
			p.printf(`</p>`)
			if ans.MediaAssetID != "" {
				p.printf(`<audio controls preload="none" src="%s"></audio>`,
					e(path("/api/v1/media/"+ans.MediaAssetID)))
			}
			p.printf(`</li>`)
		}
		p.printf(`</ol></body></html>`)
		return p.err
	})
}

// printer keeps the first write error so the page can be written without
// checking every call.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func formatScore(s *float64) string {
	if s == nil {
		return "&ndash;"
	}
	return fmt.Sprintf("%.1f", *s)
}
