package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtdesk/internal/models"
	"courtdesk/internal/service"

	"github.com/shopspring/decimal"
)

type payBody struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"omitempty,max=32"`
}

type chargePlayerBody struct {
	Name   string          `json:"name" validate:"required,max=120"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"omitempty,max=32"`
}

type participantsBody struct {
	Participants []service.Participant `json:"participants" validate:"dive"`
}

type lineItemBody struct {
	ProductID  *int64              `json:"product_id,omitempty" validate:"omitempty,gt=0"`
	Quantity   int64               `json:"quantity" validate:"gte=0"`
	UnitPrice  decimal.NullDecimal `json:"unit_price"`
	PlayerName string              `json:"player_name,omitempty" validate:"max=120"`
}

type rescheduleBody struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	CourtID   int64     `json:"court_id" validate:"gte=0"`
}

type transitionBody struct {
	Version int64 `json:"version" validate:"gte=0"`
}

type saleItemBody struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int64 `json:"quantity" validate:"gt=0"`
}

type saleBody struct {
	Items    []saleItemBody         `json:"items" validate:"required,min=1,dive"`
	Payments []service.PaymentSplit `json:"payments,omitempty"`
	ClientID *int64                 `json:"client_id,omitempty" validate:"omitempty,gt=0"`
}

type paymentLinkBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type waitingListBody struct {
	CourtID *int64 `json:"court_id,omitempty" validate:"omitempty,gt=0"`
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"required,max=40"`
	Notes   string `json:"notes,omitempty"`
}

type openRegisterBody struct {
	StartAmount decimal.Decimal `json:"start_amount"`
}

type closeRegisterBody struct {
	DeclaredCash decimal.Decimal `json:"declared_cash"`
	Notes        string          `json:"notes,omitempty" validate:"max=500"`
}

type movementBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	Category    string          `json:"category,omitempty" validate:"max=40"`
	Description string          `json:"description,omitempty" validate:"max=500"`
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request, tenantID int64) {
	var req service.CreateReservationRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.TenantID = tenantID

	result, err := s.svc.Scheduler.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{
		"reservation":  result.Reservation,
		"reservations": result.Reservations,
		"client":       result.Client,
		"recurring_id": result.RecurringID,
		"skipped":      result.Skipped,
		"unpriced":     result.Unpriced,
	})
}

func (s *HTTPServer) handleReservationDetails(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	details, err := s.svc.Accounting.Details(r.Context(), tenantID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"booking": details})
}

func (s *HTTPServer) handleReservationHistory(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	if s.svc.Audit == nil {
		writeError(w, http.StatusNotFound, "history is not available")
		return
	}
	if _, err := s.svc.Accounting.Details(r.Context(), tenantID, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	entries, err := s.svc.Audit.History(r.Context(), tenantID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *HTTPServer) handleListCourts(w http.ResponseWriter, r *http.Request, tenantID int64) {
	if s.svc.Courts == nil {
		writeOK(w, http.StatusOK, map[string]any{"courts": []*models.Court{}})
		return
	}
	courts, err := s.svc.Courts.ListCourts(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if courts == nil {
		courts = []*models.Court{}
	}
	writeOK(w, http.StatusOK, map[string]any{"courts": courts})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	result, err := s.svc.Accounting.Cancel(r.Context(), tenantID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"reservation":      result.Reservation,
		"refund":           result.Refund,
		"already_canceled": result.AlreadyDone,
	})
}

func (s *HTTPServer) handlePay(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body payBody
	if !s.decode(w, r, &body) {
		return
	}
	outcome, err := s.svc.Accounting.Pay(r.Context(), tenantID, id, body.Amount, body.Method)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"reservation": outcome.Reservation,
		"transaction": outcome.Transaction,
		"paid":        outcome.Paid,
		"total":       outcome.Total,
	})
}

func (s *HTTPServer) handleChargePlayer(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body chargePlayerBody
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.svc.Accounting.ChargePlayer(r.Context(), tenantID, id, body.Name, body.Amount, body.Method)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"charge":      result.Charge,
		"reservation": result.Reservation,
		"transaction": result.Transaction,
	})
}

func (s *HTTPServer) handleSetParticipants(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body participantsBody
	if !s.decode(w, r, &body) {
		return
	}
	charges, err := s.svc.Accounting.SetParticipants(r.Context(), tenantID, id, body.Participants)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"participants": charges})
}

func (s *HTTPServer) handleAddLineItem(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body lineItemBody
	if !s.decode(w, r, &body) {
		return
	}
	item, err := s.svc.Accounting.AddLineItem(r.Context(), tenantID, id, service.LineItemRequest{
		ProductID:  body.ProductID,
		Quantity:   body.Quantity,
		UnitPrice:  body.UnitPrice,
		PlayerName: body.PlayerName,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"item": item})
}

func (s *HTTPServer) handleRemoveLineItem(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	itemID, ok := pathID(r, "itemID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if err := s.svc.Accounting.RemoveLineItem(r.Context(), tenantID, id, itemID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body rescheduleBody
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.svc.Scheduler.Reschedule(r.Context(), tenantID, id, body.StartTime, body.CourtID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"reservation": res})
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request, tenantID int64) {
	s.handleTransition(w, r, tenantID, s.svc.Scheduler.Confirm)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request, tenantID int64) {
	s.handleTransition(w, r, tenantID, s.svc.Scheduler.Complete)
}

type transitionFunc func(ctx context.Context, tenantID, reservationID, version int64) (*models.Reservation, error)

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, tenantID int64, apply transitionFunc) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body transitionBody
	if !s.decodeOptional(w, r, &body) {
		return
	}
	res, err := apply(r.Context(), tenantID, id, body.Version)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"reservation": res})
}

func (s *HTTPServer) handleMarkNoShow(w http.ResponseWriter, r *http.Request, tenantID int64) {
	s.handleStatusAction(w, r, tenantID, s.svc.Accounting.MarkNoShow)
}

func (s *HTTPServer) handleRevertNoShow(w http.ResponseWriter, r *http.Request, tenantID int64) {
	s.handleStatusAction(w, r, tenantID, s.svc.Accounting.RevertNoShow)
}

type statusActionFunc func(ctx context.Context, tenantID, reservationID int64) (*models.Reservation, error)

func (s *HTTPServer) handleStatusAction(w http.ResponseWriter, r *http.Request, tenantID int64, apply statusActionFunc) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	res, err := apply(r.Context(), tenantID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"reservation": res})
}

func (s *HTTPServer) handlePaymentLink(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	var body paymentLinkBody
	if !s.decode(w, r, &body) {
		return
	}
	url, err := s.svc.Accounting.PaymentLink(r.Context(), tenantID, id, body.Amount)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handlePrice(w http.ResponseWriter, r *http.Request, tenantID int64) {
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	clock := strings.TrimSpace(q.Get("time"))
	if date == "" || clock == "" {
		writeError(w, http.StatusBadRequest, "date and time are required")
		return
	}
	var courtID int64
	if raw := strings.TrimSpace(q.Get("court_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid court_id")
			return
		}
		courtID = id
	}
	member, _ := strconv.ParseBool(q.Get("member"))

	quote, err := s.svc.Pricer.Estimate(r.Context(), tenantID, courtID, date, clock, member)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"price": quote.Price, "quote": quote})
}

func (s *HTTPServer) handleJoinWaitingList(w http.ResponseWriter, r *http.Request, tenantID int64) {
	var body waitingListBody
	if !s.decode(w, r, &body) {
		return
	}
	entry, err := s.svc.Scheduler.JoinWaitingList(r.Context(), tenantID, service.WaitingListRequest{
		CourtID: body.CourtID,
		Date:    body.Date,
		Name:    body.Name,
		Phone:   body.Phone,
		Notes:   body.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"entry": entry})
}

func (s *HTTPServer) handleOpenRegister(w http.ResponseWriter, r *http.Request, tenantID int64) {
	var body openRegisterBody
	if !s.decode(w, r, &body) {
		return
	}
	reg, err := s.svc.Ledger.Open(r.Context(), tenantID, body.StartAmount)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"register": reg})
}

func (s *HTTPServer) handleCloseRegister(w http.ResponseWriter, r *http.Request, tenantID int64) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid register id")
		return
	}
	var body closeRegisterBody
	if !s.decode(w, r, &body) {
		return
	}
	reg, err := s.svc.Ledger.Close(r.Context(), tenantID, id, body.DeclaredCash, body.Notes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"register": reg})
}

func (s *HTTPServer) handleAddMovement(w http.ResponseWriter, r *http.Request, tenantID int64) {
	var body movementBody
	if !s.decode(w, r, &body) {
		return
	}
	tx, err := s.svc.Ledger.AddMovement(r.Context(), tenantID, service.MovementRequest{
		Amount:      body.Amount,
		Type:        body.Type,
		Category:    body.Category,
		Description: body.Description,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"transaction": tx})
}

func (s *HTTPServer) handleKioskSale(w http.ResponseWriter, r *http.Request, tenantID int64) {
	var body saleBody
	if !s.decode(w, r, &body) {
		return
	}
	req := service.SaleRequest{Payments: body.Payments, ClientID: body.ClientID}
	for _, item := range body.Items {
		req.Items = append(req.Items, service.SaleItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	sale, err := s.svc.Accounting.Sell(r.Context(), tenantID, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (s *HTTPServer) handleRegisterStatus(w http.ResponseWriter, r *http.Request, tenantID int64) {
	view, err := s.svc.Ledger.Status(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"register": view})
}
