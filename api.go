package codeshare

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/codeshare-dev/codeshare/internal"
	"github.com/codeshare-dev/codeshare/session"
)

// LifecycleAPI is the request/response half of the protocol: it creates
// sessions and lets a client read a snapshot by id before opening a live
// relay connection.
type LifecycleAPI struct {
	Store *session.Store
}

// CreateSession allocates a fresh session with an empty document. It cannot
// fail: id generation is collision-free for our purposes.
func (a *LifecycleAPI) CreateSession(w http.ResponseWriter, req *http.Request) {
	_, span := internal.StartSpan(req.Context(), "CreateSession")
	defer span.End()
	id := a.Store.Create()
	internal.SetContextSessionID(req.Context(), id)
	hlog.FromRequest(req).Info().Str("session", id).Msg("session created")
	respondJSON(w, 200, struct {
		ID string `json:"id"`
	}{id})
}

// GetSession returns the session's current snapshot, or a 404 if the id is
// unknown. Side-effect-free.
func (a *LifecycleAPI) GetSession(w http.ResponseWriter, req *http.Request) {
	_, span := internal.StartSpan(req.Context(), "GetSession")
	defer span.End()
	id := mux.Vars(req)["sessionID"]
	internal.SetContextSessionID(req.Context(), id)
	sess, err := a.Store.Get(id)
	if err != nil {
		respondError(w, req, &internal.HandlerError{
			StatusCode: 404,
			Err:        err,
		})
		return
	}
	respondJSON(w, 200, sess)
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, req *http.Request, err error) {
	herr, ok := err.(*internal.HandlerError)
	if !ok {
		herr = &internal.HandlerError{
			StatusCode: 500,
			Err:        err,
		}
	}
	if herr.StatusCode >= 500 {
		hlog.FromRequest(req).Err(herr.Err).Msg("request failed")
		internal.GetSentryHubFromContextOrDefault(req.Context()).CaptureException(herr.Err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}
