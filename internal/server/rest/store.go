package rest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athena-ai/dashboard/internal/server/storage"
)

// Collection is the subset of storage.Collection methods a resource route
// needs.
type Collection[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context, f storage.Filter) ([]T, error)
	Create(ctx context.Context, raw map[string]any) (*T, error)
	Update(ctx context.Context, id string, raw map[string]any) (*T, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// resource serves the five standard routes of one entity family.
type resource[T any] struct {
	srv  *Server
	coll Collection[T]
	noun string
	// filters are the query parameters accepted as exact-match filters on
	// the list route.
	filters []string
	// present adjusts a record before it is written to a response.
	present func(*T)
}

// mount registers GET/POST on / and GET/PATCH/DELETE on /{id}.
func (res *resource[T]) mount(r chi.Router) {
	r.Get("/", res.list)
	r.Post("/", res.create)
	r.Get("/{id}", res.get)
	r.Patch("/{id}", res.update)
	r.Delete("/{id}", res.remove)
}

func (res *resource[T]) show(v *T) *T {
	if res.present != nil {
		res.present(v)
	}
	return v
}

func (res *resource[T]) list(w http.ResponseWriter, r *http.Request) {
	var f storage.Filter
	q := r.URL.Query()
	for _, name := range res.filters {
		if v := q.Get(name); v != "" {
			if f.Where == nil {
				f.Where = make(map[string]any, len(res.filters))
			}
			f.Where[name] = v
		}
	}

	items, err := res.coll.List(r.Context(), f)
	if err != nil {
		res.srv.fail(w, r, err)
		return
	}
	for i := range items {
		res.show(&items[i])
	}
	writeJSON(w, http.StatusOK, items)
}

func (res *resource[T]) get(w http.ResponseWriter, r *http.Request) {
	v, err := res.coll.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		res.srv.fail(w, r, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, res.noun+" not found")
		return
	}
	writeJSON(w, http.StatusOK, res.show(v))
}

func (res *resource[T]) create(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := res.coll.Create(r.Context(), body)
	if err != nil {
		res.srv.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.show(v))
}

func (res *resource[T]) update(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := res.coll.Update(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		res.srv.fail(w, r, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, res.noun+" not found")
		return
	}
	writeJSON(w, http.StatusOK, res.show(v))
}

func (res *resource[T]) remove(w http.ResponseWriter, r *http.Request) {
	ok, err := res.coll.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		res.srv.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, res.noun+" not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// hidePassword strips the bcrypt hash from a user before it leaves the
// server. omitempty then drops the attribute.
func hidePassword(u *storage.User) {
	u.Password = ""
}
