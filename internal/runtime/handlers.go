package runtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/ellie/internal/practice"
	"github.com/loqalabs/ellie/internal/resilience"
	"github.com/loqalabs/ellie/internal/scoring"
	"github.com/loqalabs/ellie/internal/stt"
	"github.com/loqalabs/ellie/internal/tts"
)

const (
	rateLimitMessage = "Rate limit exceeded, please try again later."
	maxHistoryLimit  = 1000
)

type processResponse struct {
	Original        string                       `json:"original"`
	Corrected       string                       `json:"corrected"`
	Audio           string                       `json:"audio"`
	MIME            string                       `json:"mime"`
	UsageCorrect    bool                         `json:"usageCorrect"`
	Category        scoring.Category             `json:"type"`
	Stats           scoring.CategoryStats        `json:"stats"`
	Milestone5      bool                         `json:"milestone5Earned"`
	Milestone10     bool                         `json:"milestone10Earned"`
	BonusJustEarned bool                         `json:"bonusJustEarned"`
	TotalScore      int                          `json:"totalScore"`
	Progress        map[scoring.Category]float64 `json:"progress"`
}

type exerciseResponse struct {
	Suggestion string           `json:"suggestion"`
	Prompt     string           `json:"prompt"`
	Category   scoring.Category `json:"type"`
}

type scoreResponse struct {
	Learner    string                       `json:"learner"`
	Stats      scoring.State                `json:"stats"`
	TotalScore int                          `json:"totalScore"`
	Progress   map[scoring.Category]float64 `json:"progress"`
}

type historyEvent struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	TraceID   string          `json:"traceId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

type historyResponse struct {
	Learner string         `json:"learner"`
	Events  []historyEvent `json:"events"`
}

func (r *Runtime) handleProcess(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, int64(r.cfg.HTTP.MaxUploadMB)<<20)
	if err := req.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.writeError(w, http.StatusRequestEntityTooLarge, "audio upload too large")
			return
		}
		r.writeError(w, http.StatusBadRequest, "expected multipart form with an audio file")
		return
	}
	defer req.MultipartForm.RemoveAll()

	file, header, err := req.FormFile("audio")
	if err != nil {
		r.writeFailure(w, practice.ErrNoAudio)
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		r.writeFailure(w, err)
		return
	}

	session, err := r.sessions.Session(req.Context(), learnerParam(req))
	if err != nil {
		r.writeFailure(w, err)
		return
	}

	category, suggestion := session.Current()
	if raw := req.FormValue("type"); raw != "" {
		if category, err = scoring.ParseCategory(raw); err != nil {
			r.writeFailure(w, err)
			return
		}
	}
	if _, ok := req.MultipartForm.Value["suggestion"]; ok {
		suggestion = req.FormValue("suggestion")
	}

	out, err := r.practice.Process(req.Context(), session, practice.AttemptInput{
		Audio: stt.Audio{
			Data:        data,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		},
		Category:   category,
		Suggestion: suggestion,
	})
	if err != nil {
		r.writeFailure(w, err)
		return
	}

	r.writeJSON(w, http.StatusOK, processResponse{
		Original:        out.Original,
		Corrected:       out.Corrected,
		Audio:           base64.StdEncoding.EncodeToString(out.Audio.Data),
		MIME:            mimeOrDefault(out.Audio),
		UsageCorrect:    out.UsageCorrect,
		Category:        category,
		Stats:           out.Result.Stats,
		Milestone5:      out.Result.Milestone5Earned,
		Milestone10:     out.Result.Milestone10Earned,
		BonusJustEarned: out.Result.BonusJustEarned,
		TotalScore:      out.State.TotalScore(),
		Progress:        progress(out.State),
	})
}

func (r *Runtime) handleExercise(w http.ResponseWriter, req *http.Request) {
	session, err := r.sessions.Session(req.Context(), learnerParam(req))
	if err != nil {
		r.writeFailure(w, err)
		return
	}
	category, _ := session.Current()
	if raw := req.URL.Query().Get("type"); raw != "" {
		if category, err = scoring.ParseCategory(raw); err != nil {
			r.writeFailure(w, err)
			return
		}
	}

	suggestion, err := r.exercises.Suggest(req.Context(), category)
	if err != nil {
		r.writeFailure(w, err)
		return
	}
	session.SetExercise(category, suggestion.Text)
	r.writeJSON(w, http.StatusOK, exerciseResponse{
		Suggestion: suggestion.Text,
		Prompt:     suggestion.Prompt,
		Category:   suggestion.Category,
	})
}

func (r *Runtime) handleScore(w http.ResponseWriter, req *http.Request) {
	session, err := r.sessions.Session(req.Context(), learnerParam(req))
	if err != nil {
		r.writeFailure(w, err)
		return
	}
	state := session.Machine().Snapshot()
	r.writeJSON(w, http.StatusOK, scoreResponse{
		Learner:    session.Learner,
		Stats:      state,
		TotalScore: state.TotalScore(),
		Progress:   progress(state),
	})
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	learner := learnerParam(req)
	if learner == "" {
		learner = r.cfg.Practice.DefaultLearner
	}
	limit := r.cfg.Practice.HistoryLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			r.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := r.store.ListLearnerEvents(req.Context(), learner, limit)
	if err != nil {
		r.writeFailure(w, err)
		return
	}
	resp := historyResponse{Learner: learner, Events: make([]historyEvent, 0, len(events))}
	for _, evt := range events {
		resp.Events = append(resp.Events, historyEvent{
			ID:        evt.ID,
			SessionID: evt.SessionID,
			Type:      evt.Type,
			TraceID:   evt.TraceID,
			Payload:   json.RawMessage(evt.Payload),
			CreatedAt: evt.CreatedAt,
		})
	}
	r.writeJSON(w, http.StatusOK, resp)
}

// writeFailure maps pipeline errors onto HTTP statuses.
func (r *Runtime) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case resilience.IsRateLimited(err):
		r.logger.Warn("request rate limited upstream",
			slogError(err),
			slog.Bool("retries_exhausted", resilience.IsTerminal(err)))
		r.writeError(w, http.StatusTooManyRequests, rateLimitMessage)
	case errors.Is(err, scoring.ErrUnknownCategory),
		errors.Is(err, practice.ErrNoAudio),
		errors.Is(err, practice.ErrNoSpeech),
		errors.Is(err, stt.ErrEmptyAudio):
		r.writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("request failed", slogError(err))
		r.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Runtime) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}

func (r *Runtime) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("write response failed", slog.Int("status", status), slogError(err))
	}
}

func learnerParam(req *http.Request) string {
	if v := req.FormValue("learner"); v != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(req.Header.Get("X-Learner-ID"))
}

func progress(state scoring.State) map[scoring.Category]float64 {
	out := make(map[scoring.Category]float64, len(scoring.Categories))
	for _, c := range scoring.Categories {
		out[c] = state.Progress(c)
	}
	return out
}

func mimeOrDefault(a tts.Audio) string {
	if a.MIME == "" {
		return "audio/wav"
	}
	return a.MIME
}
