package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorisconti/drivehub-backend/api/controllers"
	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/internal/directory"
	"github.com/lorisconti/drivehub-backend/internal/notifications"
	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/internal/reposition"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	ReadyDeps     map[string]controllers.Pinger
	Appointments  appointments.Service
	Payments      payments.Service
	Reposition    reposition.Service
	Notifications notifications.Service
	Directory     directory.Service
	Windows       controllers.WindowLister
	SlotFinder    controllers.SlotFinder
	Timezones     controllers.TimezoneResolver
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.ReadyDeps))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CompanyContext(logg))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", controllers.CreateAppointment(p.Appointments, logg))
			r.Get("/{appointmentId}", controllers.GetAppointment(p.Appointments, logg))
			r.Patch("/{appointmentId}/status", controllers.UpdateAppointmentStatus(p.Appointments, logg))
			r.Post("/{appointmentId}/cancel", controllers.CancelAppointmentOperational(p.Appointments, logg))
			r.Post("/{appointmentId}/cancel-by-student", controllers.CancelAppointmentByStudent(p.Appointments, logg))
			r.Get("/{appointmentId}/payments", controllers.ListAppointmentPayments(p.Payments, logg))
			r.Post("/{appointmentId}/payments/recover", controllers.RecoverAppointmentPayment(p.Payments, logg))
			r.Get("/{appointmentId}/reposition", controllers.GetRepositionTask(p.Reposition, logg))
		})

		r.Get("/students/{studentId}/appointments", controllers.ListStudentAppointments(p.Appointments, logg))

		r.Route("/availability", func(r chi.Router) {
			r.Get("/best-slot", controllers.SearchBestSlot(p.SlotFinder, p.Timezones, logg))
			r.Get("/windows", controllers.ListAvailabilityWindows(p.Windows, logg))
			r.Put("/windows", controllers.SetAvailabilityWindow(p.Directory, logg))
			r.Put("/policies", controllers.SetLessonPolicy(p.Directory, logg))
		})

		r.Post("/students/cards", controllers.RegisterStudentCard(p.Directory, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
		})
	})

	return r
}
