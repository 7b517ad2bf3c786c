package api

import (
	"net/http"

	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/orders"
)

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var in orders.CreateOrderInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.OwnerID = owner

	o, err := s.orders.CreateOrder(r.Context(), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	f := models.OrderFilter{
		Status: models.OrderStatus(r.URL.Query().Get("status")),
		Limit:  parseLimit(r, 100),
	}

	list, err := s.orders.ListOrders(r.Context(), owner, f)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	o, err := s.orders.GetOrder(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	o, err := s.orders.CancelOrder(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
