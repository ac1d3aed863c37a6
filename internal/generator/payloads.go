package generator

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/streamsim/internal/random"
)

// PayloadFunc builds the data fields of one stream's event.
type PayloadFunc func(p *Payload) map[string]any

// Payload carries the inputs a builder may draw on.
type Payload struct {
	Src random.Source
	Now time.Time
}

func (p *Payload) pick(items ...string) string { return random.Pick(p.Src, items) }
func (p *Payload) intn(lo, hi int) int { return random.Between(p.Src, lo, hi) }
func (p *Payload) chance(pr float64) bool { return random.Chance(p.Src, pr) }
func (p *Payload) id(prefix string) string { return random.ID(p.Src, prefix) }
func (p *Payload) subject() string { return random.Pick(p.Src, Subjects) }

func (p *Payload) ip() string {
	return fmt.Sprintf("%d.%d.%d.%d", p.Src.IntN(255), p.Src.IntN(255), p.Src.IntN(255), p.Src.IntN(255))
}

func (p *Payload) phone() string {
	return fmt.Sprintf("+1-555-%04d", p.Src.IntN(10000))
}

func (p *Payload) campaign() string {
	return fmt.Sprintf("linkedin_%d_%d", p.Now.Year(), p.intn(1, 12))
}

// slotStart returns today between 08:00 and 19:45 on a quarter hour.
func (p *Payload) slotStart() time.Time {
	y, m, d := p.Now.Date()
	return time.Date(y, m, d, p.intn(8, 19), 15*p.Src.IntN(4), 0, 0, p.Now.Location())
}

// Subjects is the tutoring subject vocabulary.
var Subjects = []string{"Math", "Science", "English", "History", "Physics", "Chemistry", "Biology", "Calculus", "Algebra"}

// Keywords is the tutor search keyword vocabulary.
var Keywords = []string{"experienced", "certified", "native speaker", "online", "in-person", "group", "one-on-one"}

var (
	devices = []string{"desktop", "mobile", "tablet"}
	plans   = []string{"basic_monthly", "premium_monthly", "basic_yearly", "premium_yearly"}
	ads     = []string{"linkedin", "google_ads", "facebook", "indeed"}
)

func without(items []string, drop string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it != drop {
			out = append(out, it)
		}
	}
	return out
}

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339) }

var registry = map[string]PayloadFunc{
	// customer
	"customer.signup.started": func(p *Payload) map[string]any {
		return map[string]any{
			"temp_user_id": p.id("temp"),
			"source":       p.pick("google", "facebook", "direct", "referral", "organic"),
			"medium":       p.pick("cpc", "organic", "email", "social", "referral"),
			"campaign":     "campaign_" + random.Token(p.Src, 6),
		}
	},
	"customer.signup.completed": func(p *Payload) map[string]any {
		return map[string]any{
			"user_id":             p.id("student"),
			"registration_source": p.pick("web", "mobile_ios", "mobile_android"),
			"device_type":         random.Pick(p.Src, devices),
			"cohort_id":           p.pick("2024_q1", "2024_q2", "2024_q3", "2024_q4", "2025_q1"),
		}
	},
	"customer.login.success": func(p *Payload) map[string]any {
		return map[string]any{
			"user_id":     p.id("student"),
			"ip_address":  p.ip(),
			"device_type": random.Pick(p.Src, devices),
		}
	},
	"customer.login.failure": func(p *Payload) map[string]any {
		return map[string]any{
			"username_or_email": fmt.Sprintf("user%d@example.com", p.Src.IntN(10000)),
			"ip_address":        p.ip(),
			"reason":            p.pick("wrong_password", "account_not_found", "account_locked"),
		}
	},
	"customer.profile.update": func(p *Payload) map[string]any {
		return map[string]any{
			"user_id":        p.id("student"),
			"updated_fields": random.Sample(p.Src, []string{"subjects", "education_level", "goals", "availability", "preferences"}, 1, 3),
		}
	},
	"customer.subscription.plan_changed": func(p *Payload) map[string]any {
		old := random.Pick(p.Src, plans)
		return map[string]any{
			"user_id":     p.id("student"),
			"old_plan_id": old,
			"new_plan_id": random.Pick(p.Src, without(plans, old)),
			"event_type":  p.pick("upgrade", "downgrade", "lateral"),
		}
	},
	"customer.subscription.payment_success": func(p *Payload) map[string]any {
		return map[string]any{
			"user_id":           p.id("student"),
			"amount":            random.Pick(p.Src, []float64{29.99, 49.99, 79.99, 99.99, 199.99}),
			"plan_id":           random.Pick(p.Src, plans),
			"next_billing_date": p.Now.AddDate(0, 1, 0).Format(time.DateOnly),
		}
	},
	"customer.subscription.payment_failure": func(p *Payload) map[string]any {
		return map[string]any{
			"user_id":             p.id("student"),
			"amount":              random.Pick(p.Src, []float64{29.99, 49.99, 79.99, 99.99}),
			"failure_reason_code": p.pick("insufficient_funds", "expired_card", "declined", "card_not_found"),
		}
	},
	"customer.page.view": func(p *Payload) map[string]any {
		return map[string]any{
			"user_id":          p.id("student"),
			"page_url":         p.pick("/tutors/search", "/dashboard", "/profile", "/sessions", "/settings", "/help"),
			"duration_seconds": p.intn(10, 309),
		}
	},
	"customer.tutor.search": func(p *Payload) map[string]any {
		start := p.slotStart()
		end := start.Add(time.Duration(p.intn(1, 3)) * time.Hour)
		return map[string]any{
			"user_id":            p.id("student"),
			"subject":            p.subject(),
			"availability_start": iso(start),
			"availability_end":   iso(end),
			"keywords":           random.Sample(p.Src, Keywords, 1, 3),
		}
	},

	// tutor
	"tutor.application.received": func(p *Payload) map[string]any {
		return map[string]any{
			"applicant_id":       p.id("applicant"),
			"subject":            p.subject(),
			"region":             p.pick("northeast_us", "southeast_us", "midwest_us", "west_us", "international"),
			"source_campaign_id": p.campaign(),
		}
	},
	"tutor.onboarding.step_completed": func(p *Payload) map[string]any {
		return map[string]any{
			"applicant_id": p.id("applicant"),
			"step_name":    p.pick("application_review", "background_check", "demo_session", "training", "certification"),
			"status":       p.pick("pending", "completed", "failed"),
		}
	},
	"tutor.onboarding.approved": func(p *Payload) map[string]any {
		return map[string]any{
			"applicant_id":            p.id("applicant"),
			"tutor_id":                p.id("tutor"),
			"approved_by_operator_id": fmt.Sprintf("operator_%d", p.Src.IntN(100)),
		}
	},
	"tutor.onboarding.rejected": func(p *Payload) map[string]any {
		return map[string]any{
			"applicant_id":     p.id("applicant"),
			"rejection_reason": p.pick("failed_background_check", "insufficient_qualifications", "failed_demo", "application_incomplete"),
		}
	},
	"tutor.availability.set": func(p *Payload) map[string]any {
		start := p.slotStart()
		return map[string]any{
			"tutor_id":    p.id("tutor"),
			"block_start": iso(start),
			"block_end":   iso(start.Add(time.Duration(p.intn(1, 3)) * time.Hour)),
			"status":      p.pick("available", "booked", "unavailable"),
		}
	},
	"tutor.availability.batch_updated": func(p *Payload) map[string]any {
		template := make(map[string]any, 5)
		for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
			template[day] = []map[string]string{{"start": "14:00", "end": "18:00"}}
		}
		return map[string]any{
			"tutor_id": p.id("tutor"),
			"template": template,
		}
	},
	"tutor.login.event": func(p *Payload) map[string]any {
		return map[string]any{
			"tutor_id":    p.id("tutor"),
			"device_type": random.Pick(p.Src, devices),
		}
	},
	"tutor.profile.viewed_by_student": func(p *Payload) map[string]any {
		return map[string]any{
			"tutor_id":           p.id("tutor"),
			"viewing_student_id": p.id("student"),
		}
	},
	"tutor.payout.initiated": func(p *Payload) map[string]any {
		return map[string]any{
			"tutor_id":      p.id("tutor"),
			"amount_usd":    p.intn(100, 1099),
			"session_count": p.intn(5, 24),
			"payout_method": p.pick("bank_transfer", "paypal", "stripe"),
		}
	},
	"tutor.status.changed": func(p *Payload) map[string]any {
		statuses := []string{"active", "paused", "inactive", "on_vacation"}
		old := random.Pick(p.Src, statuses)
		return map[string]any{
			"tutor_id":   p.id("tutor"),
			"old_status": old,
			"new_status": random.Pick(p.Src, without(statuses, old)),
		}
	},

	// session
	"session.booking.requested": func(p *Payload) map[string]any {
		day := p.Now.AddDate(0, 0, p.intn(1, 7))
		y, m, d := day.Date()
		requested := time.Date(y, m, d, p.intn(8, 19), 15*p.Src.IntN(4), 0, 0, day.Location())
		return map[string]any{
			"request_id":     p.id("req"),
			"student_id":     p.id("student"),
			"tutor_id":       p.id("tutor"),
			"subject":        p.subject(),
			"requested_time": iso(requested),
		}
	},
	"session.booking.confirmed": func(p *Payload) map[string]any {
		return map[string]any{
			"session_id":     p.id("session"),
			"request_id":     p.id("req"),
			"student_id":     p.id("student"),
			"tutor_id":       p.id("tutor"),
			"scheduled_time": iso(p.slotStart()),
		}
	},
	"session.booking.declined_by_tutor": func(p *Payload) map[string]any {
		return map[string]any{
			"request_id": p.id("req"),
			"student_id": p.id("student"),
			"tutor_id":   p.id("tutor"),
			"reason":     p.pick("scheduling_conflict", "subject_mismatch", "unavailable", "overbooked"),
		}
	},
	"session.booking.expired": func(p *Payload) map[string]any {
		return map[string]any{
			"request_id": p.id("req"),
			"student_id": p.id("student"),
			"subject":    p.subject(),
		}
	},
	"session.cancellation.by_student": func(p *Payload) map[string]any {
		fee := 0
		if p.chance(0.5) {
			fee = p.intn(5, 24)
		}
		return map[string]any{
			"session_id":               p.id("session"),
			"student_id":               p.id("student"),
			"reason_code":              p.pick("schedule_conflict", "found_other_tutor", "no_longer_needed", "emergency"),
			"cancellation_fee_charged": fee,
		}
	},
	"session.cancellation.by_tutor": func(p *Payload) map[string]any {
		return map[string]any{
			"session_id":  p.id("session"),
			"tutor_id":    p.id("tutor"),
			"reason_code": p.pick("emergency", "illness", "technical_issue", "personal"),
		}
	},
	"session.started": func(p *Payload) map[string]any {
		return map[string]any{
			"session_id":        p.id("session"),
			"student_join_time": iso(p.Now.Add(-time.Duration(p.Src.IntN(5)) * time.Minute)),
			"tutor_join_time":   iso(p.Now.Add(-time.Duration(p.Src.IntN(3)) * time.Minute)),
		}
	},
	"session.completed": func(p *Payload) map[string]any {
		return map[string]any{
			"session_id":       p.id("session"),
			"student_id":       p.id("student"),
			"tutor_id":         p.id("tutor"),
			"duration_minutes": p.intn(30, 89),
			"subject":          p.subject(),
		}
	},
	"session.no_show.student": noShow,
	"session.no_show.tutor":   noShow,
	"session.rating.submitted_by_student": func(p *Payload) map[string]any {
		data := map[string]any{
			"session_id":   p.id("session"),
			"student_id":   p.id("student"),
			"tutor_id":     p.id("tutor"),
			"rating_score": p.intn(1, 5),
		}
		if p.chance(0.5) {
			data["comment"] = "Great session! Really helped me understand " + p.subject() + "."
		}
		return data
	},
	"session.feedback.submitted_by_tutor": func(p *Payload) map[string]any {
		return map[string]any{
			"session_id":       p.id("session"),
			"tutor_id":         p.id("tutor"),
			"student_id":       p.id("student"),
			"notes":            "Student needs help with " + p.subject() + " concepts.",
			"student_progress": p.pick("improving", "struggling", "advanced", "on_track"),
		}
	},

	// support
	"support.call.inbound": func(p *Payload) map[string]any {
		data := map[string]any{
			"call_id":      p.id("call"),
			"phone_number": p.phone(),
			"queue":        p.pick("billing", "technical", "general", "booking"),
		}
		if p.chance(0.8) {
			data["customer_id"] = p.id("student")
		}
		return data
	},
	"support.call.outbound": func(p *Payload) map[string]any {
		return map[string]any{
			"call_id":     p.id("call"),
			"customer_id": p.id("student"),
			"operator_id": fmt.Sprintf("operator_%d", p.Src.IntN(100)),
			"reason":      p.pick("churn_followup", "payment_retry", "satisfaction_check", "technical_issue"),
		}
	},
	"support.ticket.created": func(p *Payload) map[string]any {
		return map[string]any{
			"ticket_id":   p.id("ticket"),
			"customer_id": p.id("student"),
			"category":    p.pick("technical_issue", "billing", "booking_problem", "quality_complaint"),
			"priority":    p.pick("low", "medium", "high", "urgent"),
		}
	},
	"support.ticket.updated": func(p *Payload) map[string]any {
		data := map[string]any{
			"ticket_id":   p.id("ticket"),
			"update_type": p.pick("agent_reply", "status_change", "customer_reply", "escalation"),
		}
		if p.chance(0.7) {
			data["agent_id"] = fmt.Sprintf("agent_%d", p.Src.IntN(50))
		}
		return data
	},
	"support.ticket.resolved": func(p *Payload) map[string]any {
		return map[string]any{
			"ticket_id":             p.id("ticket"),
			"agent_id":              fmt.Sprintf("agent_%d", p.Src.IntN(50)),
			"resolution_time_hours": p.intn(1, 24),
		}
	},
	"support.live_chat.started": func(p *Payload) map[string]any {
		return map[string]any{
			"chat_id":           p.id("chat"),
			"customer_id":       p.id("student"),
			"initial_query":     p.pick("Can't find available tutors", "Payment issue", "Session problem", "Account question"),
			"wait_time_seconds": p.intn(10, 129),
		}
	},
	"support.live_chat.message": func(p *Payload) map[string]any {
		return map[string]any{
			"chat_id":        p.id("chat"),
			"sender_type":    p.pick("customer", "agent", "bot"),
			"message_length": p.intn(10, 209),
		}
	},
	"support.refund.requested": func(p *Payload) map[string]any {
		data := map[string]any{
			"refund_request_id": p.id("refund"),
			"customer_id":       p.id("student"),
			"amount":            p.intn(20, 119),
			"reason":            p.pick("tutor_no_show", "quality_issue", "technical_problem", "billing_error"),
		}
		if p.chance(0.7) {
			data["session_id"] = p.id("session")
		}
		return data
	},

	// marketing
	"marketing.ad.spend": func(p *Payload) map[string]any {
		return map[string]any{
			"campaign_id": p.campaign(),
			"platform":    random.Pick(p.Src, ads),
			"spend_usd":   p.intn(50, 549),
		}
	},
	"marketing.ad.impression": func(p *Payload) map[string]any {
		return map[string]any{
			"campaign_id": p.campaign(),
			"platform":    random.Pick(p.Src, ads),
			"ad_group_id": p.subject() + "_tutors_" + p.pick("northeast", "southeast", "midwest", "west"),
		}
	},
	"marketing.ad.click": func(p *Payload) map[string]any {
		return map[string]any{
			"campaign_id":    p.campaign(),
			"platform":       random.Pick(p.Src, ads),
			"cost_per_click": p.intn(1, 5),
		}
	},
	"marketing.ad.conversion": func(p *Payload) map[string]any {
		return map[string]any{
			"campaign_id":     p.campaign(),
			"click_id":        p.id("click"),
			"conversion_type": p.pick("application_start", "application_complete"),
		}
	},
	"seo.organic.traffic": func(p *Payload) map[string]any {
		data := map[string]any{
			"landing_page_url": "/become-a-tutor",
			"search_engine":    p.pick("google", "bing", "duckduckgo"),
		}
		if p.chance(0.5) {
			data["keyword"] = p.pick("online tutoring jobs", "tutor application", "teach online")
		}
		return data
	},

	// system
	"api.request.log": func(p *Payload) map[string]any {
		status := 200
		switch {
		case p.chance(0.05):
			status = 500
			if p.chance(0.5) {
				status = 400
			}
		case p.chance(0.2):
			status = 201
		}
		data := map[string]any{
			"endpoint":    p.pick("/v1/book_session", "/v1/search_tutors", "/v1/get_sessions", "/v1/update_profile", "/v1/login"),
			"status_code": status,
			"latency_ms":  p.intn(50, 549),
		}
		if p.chance(0.7) {
			data["user_id"] = p.id("student")
		}
		return data
	},
	"system.error.log": func(p *Payload) map[string]any {
		return map[string]any{
			"service_name": p.pick("payment_processor", "booking_service", "auth_service", "notification_service"),
			"error_message": p.pick(
				"Connection timeout to payment gateway",
				"Database connection pool exhausted",
				"Rate limit exceeded",
				"Invalid session token",
			),
			"severity": p.pick("info", "warning", "error", "critical"),
		}
	},
	"database.query.performance": func(p *Payload) map[string]any {
		return map[string]any{
			"db_host":     fmt.Sprintf("primary-db-%d", p.intn(1, 3)),
			"query_hash":  random.Token(p.Src, 12),
			"duration_ms": p.intn(1000, 5999),
			"query_text":  "SELECT * FROM sessions WHERE...",
		}
	},
	"platform.concurrent.users": func(p *Payload) map[string]any {
		return map[string]any{
			"active_student_count": p.intn(500, 2499),
			"active_tutor_count":   p.intn(100, 599),
		}
	},
	"payment_gateway.transaction.status": func(p *Payload) map[string]any {
		status := "success"
		if p.chance(0.05) {
			status = p.pick("failed", "pending")
		}
		return map[string]any{
			"transaction_id": "txn_" + uuid.NewString(),
			"gateway":        p.pick("stripe", "paypal", "braintree"),
			"status":         status,
			"amount":         p.intn(20, 219),
		}
	},
}

func noShow(p *Payload) map[string]any {
	return map[string]any{
		"session_id":     p.id("session"),
		"student_id":     p.id("student"),
		"tutor_id":       p.id("tutor"),
		"scheduled_time": iso(p.Now.Add(-time.Hour)),
	}
}

// Streams returns every stream with a payload schema, sorted.
func Streams() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether stream has a payload schema.
func Known(stream string) bool {
	_, ok := registry[stream]
	return ok
}
