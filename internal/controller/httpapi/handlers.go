package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/lifecycle"
	"github.com/lessonhub/lessonhub/internal/lock"
	"github.com/lessonhub/lessonhub/internal/model"
	"github.com/lessonhub/lessonhub/internal/repository"
	"github.com/lessonhub/lessonhub/internal/repository/base"
	"github.com/lessonhub/lessonhub/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

type transitionResponse struct {
	Booking *model.Booking `json:"booking"`
	NoOp    bool           `json:"no_op"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError транслирует таксономию ошибок ядра в HTTP-статусы
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalid *lifecycle.InvalidTransitionError

	switch {
	case errors.Is(err, repository.ErrBookingNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrStaleVersion):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "this booking was just updated, please refresh"})
	case errors.As(err, &invalid):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, base.ErrLockUnavailable):
		s.writeJSON(w, http.StatusLocked, errorResponse{Error: "booking is busy, please try again"})
	case errors.Is(err, service.ErrCreditExhausted), errors.Is(err, service.ErrCreditUnavailable):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, lock.ErrHeldElsewhere):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "sweep is already running on another instance"})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type createBookingRequest struct {
	StudentID int64     `json:"student_id"`
	TutorID   int64     `json:"tutor_id"`
	SubjectID int64     `json:"subject_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	PackageID *int64    `json:"package_id,omitempty"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	booking, err := s.bookingSvc.Create(r.Context(), service.CreateBookingInput{
		StudentID: req.StudentID,
		TutorID:   req.TutorID,
		SubjectID: req.SubjectID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		PackageID: req.PackageID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, booking)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid booking id"})
		return
	}

	booking, err := s.bookingSvc.GetBooking(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if booking == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "booking not found"})
		return
	}

	s.writeJSON(w, http.StatusOK, booking)
}

type mutateRequest struct {
	// Version версия брони, которую видел клиент при чтении
	Version int64  `json:"version"`
	Actor   string `json:"actor,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	State   string `json:"state,omitempty"`
}

func (s *Server) decodeMutation(w http.ResponseWriter, r *http.Request) (int64, *mutateRequest, bool) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid booking id"})
		return 0, nil, false
	}

	var req mutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return 0, nil, false
	}

	return id, &req, true
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := s.bookingSvc.Confirm(r.Context(), id, req.Version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{Booking: res.Booking, NoOp: res.NoOp})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}

	actor := model.CancelActor(req.Actor)
	switch actor {
	case model.CancelActorStudent, model.CancelActorTutor, model.CancelActorAdmin:
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid actor"})
		return
	}

	res, err := s.bookingSvc.Cancel(r.Context(), id, req.Version, actor, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{Booking: res.Booking, NoOp: res.NoOp})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := s.bookingSvc.Decline(r.Context(), id, req.Version, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{Booking: res.Booking, NoOp: res.NoOp})
}

func (s *Server) handleMarkNoShow(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := s.bookingSvc.MarkNoShow(r.Context(), id, req.Version, model.SessionOutcome(req.Outcome))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{Booking: res.Booking, NoOp: res.NoOp})
}

func (s *Server) handleSetPaymentState(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := s.bookingSvc.SetPaymentState(r.Context(), id, req.Version, model.PaymentState(req.State))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{Booking: res.Booking, NoOp: res.NoOp})
}

func (s *Server) handleSetDisputeState(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := s.bookingSvc.SetDisputeState(r.Context(), id, req.Version, model.DisputeState(req.State))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{Booking: res.Booking, NoOp: res.NoOp})
}

type purchasePackageRequest struct {
	StudentID       int64      `json:"student_id"`
	TutorID         int64      `json:"tutor_id"`
	Sessions        int        `json:"sessions"`
	RollingValidity bool       `json:"rolling_validity"`
	ValidityDays    int        `json:"validity_days"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handlePurchasePackage(w http.ResponseWriter, r *http.Request) {
	var req purchasePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	p, err := s.packageSvc.Purchase(r.Context(), service.PurchasePackageInput{
		StudentID:       req.StudentID,
		TutorID:         req.TutorID,
		Sessions:        req.Sessions,
		RollingValidity: req.RollingValidity,
		ValidityDays:    req.ValidityDays,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid package id"})
		return
	}

	p, err := s.packageSvc.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "package not found"})
		return
	}

	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")

	summary, err := s.sweeperSvc.RunJob(r.Context(), job)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}
