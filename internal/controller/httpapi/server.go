package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/service"
)

// Server HTTP-поверхность ядра бронирований: мутации жизненного цикла,
// пакеты и ручной запуск свипов
type Server struct {
	bookingSvc *service.BookingService
	packageSvc *service.PackageService
	sweeperSvc *service.SweeperService
	logger     *zap.Logger
}

func NewServer(
	bookingSvc *service.BookingService,
	packageSvc *service.PackageService,
	sweeperSvc *service.SweeperService,
	logger *zap.Logger,
) *Server {
	return &Server{
		bookingSvc: bookingSvc,
		packageSvc: packageSvc,
		sweeperSvc: sweeperSvc,
		logger:     logger,
	}
}

// Router собирает маршруты
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", s.handleCreateBooking)
		r.Get("/{id}", s.handleGetBooking)
		r.Post("/{id}/confirm", s.handleConfirm)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Post("/{id}/decline", s.handleDecline)
		r.Post("/{id}/no-show", s.handleMarkNoShow)
		r.Post("/{id}/payment-state", s.handleSetPaymentState)
		r.Post("/{id}/dispute-state", s.handleSetDisputeState)
	})

	r.Route("/packages", func(r chi.Router) {
		r.Post("/", s.handlePurchasePackage)
		r.Get("/{id}", s.handleGetPackage)
	})

	// Ручной запуск цикла, тот же контракт что у таймера
	r.Post("/sweeps/{job}", s.handleRunSweep)

	return r
}
