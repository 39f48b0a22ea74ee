package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"user-records/internal/store"
)

var (
	errInvalidID   = errors.New("invalid user id")
	errInvalidBody = errors.New("invalid request body")
)

// userPayload is the accepted request body. Pointers tell a missing field
// from an empty one; id is accepted and ignored.
type userPayload struct {
	ID    *int64  `json:"id"`
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// decodeUser parses a create/update body. Both name and email must be
// present, name must not be blank, and neither may contain NUL, which
// PostgreSQL text columns cannot store.
func decodeUser(body string) (name, email string, err error) {
	var p userPayload
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return "", "", errInvalidBody
	}
	if dec.More() {
		return "", "", errInvalidBody
	}
	if p.Name == nil || p.Email == nil || strings.TrimSpace(*p.Name) == "" {
		return "", "", errInvalidBody
	}
	if strings.ContainsRune(*p.Name, 0) || strings.ContainsRune(*p.Email, 0) {
		return "", "", errInvalidBody
	}
	return *p.Name, *p.Email, nil
}

// userID extracts the id from /users/{id}: the third slash-separated
// segment, which must be a positive 32-bit integer.
func userID(path string) (int64, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return 0, errInvalidID
	}
	id, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// call runs one store operation through the tracer and the circuit breaker.
func (s *Server) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return s.breaker.Execute(func() error {
		return s.traceStore(ctx, op, fn)
	})
}

// storeFailure maps a store error onto a response.
func (s *Server) storeFailure(op string, err error) Response {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return failure(http.StatusNotFound, "User not found")
	case store.IsClientError(err):
		return failure(http.StatusBadRequest, "Invalid request body")
	}

	s.metrics.RecordStoreError()
	Error("store_call_failed", map[string]interface{}{"op": op}, err)

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) || store.IsUnavailable(err) {
		return failure(http.StatusServiceUnavailable, "Service Unavailable")
	}
	return failure(http.StatusInternalServerError, "Error")
}

func badRequest(err error) Response {
	if errors.Is(err, errInvalidID) {
		return failure(http.StatusBadRequest, "Invalid user id")
	}
	return failure(http.StatusBadRequest, "Invalid request body")
}

// createUser handles POST /users.
func (s *Server) createUser(ctx context.Context, req *Request) Response {
	name, email, err := decodeUser(req.Body)
	if err != nil {
		return badRequest(err)
	}

	var id int64
	err = s.call(ctx, "insert", func(ctx context.Context) error {
		var err error
		id, err = s.store.Insert(ctx, name, email)
		return err
	})
	if err != nil {
		return s.storeFailure("insert", err)
	}

	s.metrics.RecordUserChange("create")
	Debug("user_created", map[string]interface{}{"id": id})
	return success("User created")
}

// getUser handles GET /users/{id}.
func (s *Server) getUser(ctx context.Context, req *Request) Response {
	id, err := userID(req.Path)
	if err != nil {
		return badRequest(err)
	}

	var rec store.Record
	err = s.call(ctx, "fetch_by_id", func(ctx context.Context) error {
		var err error
		rec, err = s.store.FetchByID(ctx, id)
		return err
	})
	if err != nil {
		return s.storeFailure("fetch_by_id", err)
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return failure(http.StatusInternalServerError, "Error")
	}
	return success(string(body))
}

// listUsers handles GET /users.
func (s *Server) listUsers(ctx context.Context, _ *Request) Response {
	var recs []store.Record
	err := s.call(ctx, "fetch_all", func(ctx context.Context) error {
		var err error
		recs, err = s.store.FetchAll(ctx)
		return err
	})
	if err != nil {
		return s.storeFailure("fetch_all", err)
	}
	if recs == nil {
		recs = []store.Record{}
	}

	body, err := json.Marshal(recs)
	if err != nil {
		return failure(http.StatusInternalServerError, "Error")
	}
	return success(string(body))
}

// updateUser handles PUT /users/{id}.
func (s *Server) updateUser(ctx context.Context, req *Request) Response {
	id, err := userID(req.Path)
	if err != nil {
		return badRequest(err)
	}
	name, email, err := decodeUser(req.Body)
	if err != nil {
		return badRequest(err)
	}

	err = s.call(ctx, "update_by_id", func(ctx context.Context) error {
		return s.store.UpdateByID(ctx, id, name, email)
	})
	if err != nil {
		return s.storeFailure("update_by_id", err)
	}

	s.metrics.RecordUserChange("update")
	return success("User updated")
}

// deleteUser handles DELETE /users/{id}.
func (s *Server) deleteUser(ctx context.Context, req *Request) Response {
	id, err := userID(req.Path)
	if err != nil {
		return badRequest(err)
	}

	err = s.call(ctx, "delete_by_id", func(ctx context.Context) error {
		return s.store.DeleteByID(ctx, id)
	})
	if err != nil {
		return s.storeFailure("delete_by_id", err)
	}

	s.metrics.RecordUserChange("delete")
	return success("User deleted")
}
