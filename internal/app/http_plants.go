package app

import (
	"log"
	"net/http"
	"strconv"
	"time"
)

func (s *HTTPServer) routePlants(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		s.handleListPlants(w, r, session)
	case r.Method == http.MethodPost && len(rest) == 0:
		s.handleCreatePlant(w, r, session)
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "with-latest-data":
		s.handleListPlantsWithLatest(w, r, session)
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "search":
		s.handleSearchPlants(w, r, session)
	case r.Method == http.MethodGet && len(rest) == 1:
		s.handleGetPlant(w, r, session, rest[0])
	case r.Method == http.MethodPut && len(rest) == 1:
		s.handleUpdatePlant(w, r, session, rest[0])
	case r.Method == http.MethodDelete && len(rest) == 1:
		s.handleDeletePlant(w, r, session, rest[0])
	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "stats":
		s.handlePlantStats(w, r, session, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListPlants(w http.ResponseWriter, r *http.Request, session Session) {
	plants, err := s.service.ListPlants(r.Context(), session.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", plantListJSON(plants, false))
}

func (s *HTTPServer) handleCreatePlant(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name        string `json:"name"`
		Location    string `json:"location"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	plant, err := s.service.CreatePlant(r.Context(), session.UserID, body.Name, body.Location, body.Description)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Plant created successfully", plantJSON(plant, false))
}

func (s *HTTPServer) handleListPlantsWithLatest(w http.ResponseWriter, r *http.Request, session Session) {
	plants, err := s.service.ListPlantsWithLatest(r.Context(), session.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", plantListJSON(plants, true))
}

func (s *HTTPServer) handleSearchPlants(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	limit := queryInt(query.Get("limit"), 20)
	offset := queryInt(query.Get("offset"), 0)

	resp := s.service.SearchPlants(r.Context(), session.UserID, query.Get("q"), limit, offset)
	writeSuccess(w, http.StatusOK, "", map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	})
}

func (s *HTTPServer) handleGetPlant(w http.ResponseWriter, r *http.Request, session Session, plantID string) {
	plant, err := s.service.GetPlant(r.Context(), session.UserID, plantID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", plantJSON(plant, false))
}

func (s *HTTPServer) handleUpdatePlant(w http.ResponseWriter, r *http.Request, session Session, plantID string) {
	var body struct {
		Name        string `json:"name"`
		Location    string `json:"location"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	plant, err := s.service.UpdatePlant(r.Context(), session.UserID, plantID, body.Name, body.Location, body.Description)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Plant updated successfully", plantJSON(plant, false))
}

func (s *HTTPServer) handleDeletePlant(w http.ResponseWriter, r *http.Request, session Session, plantID string) {
	if err := s.service.DeactivatePlant(r.Context(), session.UserID, plantID); err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Plant deleted successfully", nil)
}

func (s *HTTPServer) handlePlantStats(w http.ResponseWriter, r *http.Request, session Session, plantID string) {
	days := queryInt(r.URL.Query().Get("days"), 7)
	stats, err := s.service.PlantStats(r.Context(), session.UserID, plantID, days)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", statsJSON(stats))
}

func (s *HTTPServer) routeReadings(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		s.handleListReadings(w, r, session)
	case r.Method == http.MethodPost && len(rest) == 0:
		s.handleCreateReading(w, r, session)
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "latest":
		s.handleLatestReading(w, r, session)
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "stats":
		s.handleReadingStats(w, r, session)
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "range":
		s.handleReadingsByRange(w, r, session)
	case r.Method == http.MethodPut && len(rest) == 1:
		s.handleUpdateReading(w, r, session, rest[0])
	case r.Method == http.MethodDelete && len(rest) == 1:
		s.handleDeleteReading(w, r, session, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListReadings(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	page := queryInt(query.Get("page"), 1)
	limit := queryInt(query.Get("limit"), 50)

	readings, pagination, err := s.service.ListReadings(r.Context(), session.UserID, query.Get("plantId"), page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{
		"records":    readingListJSON(readings),
		"pagination": pagination,
	})
}

func (s *HTTPServer) handleCreateReading(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		PlantID   string     `json:"plantId"`
		Battery   *float64   `json:"batLocal"`
		Level     *float64   `json:"nivelLocal"`
		Signal    *float64   `json:"senLocal"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	reading, err := s.service.CreateReading(r.Context(), session.UserID, CreateReadingInput{
		PlantID:    body.PlantID,
		Battery:    body.Battery,
		Level:      body.Level,
		Signal:     body.Signal,
		RecordedAt: body.Timestamp,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Record created successfully", readingJSON(reading))
}

func (s *HTTPServer) handleLatestReading(w http.ResponseWriter, r *http.Request, session Session) {
	reading, err := s.service.LatestReading(r.Context(), session.UserID, r.URL.Query().Get("plantId"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", readingJSON(reading))
}

func (s *HTTPServer) handleReadingStats(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	days := queryInt(query.Get("days"), 7)

	stats, err := s.service.ReadingStats(r.Context(), session.UserID, query.Get("plantId"), days)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", statsJSON(stats))
}

func (s *HTTPServer) handleReadingsByRange(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()

	from, err := parseDate(query.Get("startDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "startDate must be an ISO date", nil)
		return
	}
	to, err := parseDate(query.Get("endDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "endDate must be an ISO date", nil)
		return
	}

	readings, err := s.service.ReadingsByDateRange(r.Context(), session.UserID, query.Get("plantId"), from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", readingListJSON(readings))
}

func (s *HTTPServer) handleUpdateReading(w http.ResponseWriter, r *http.Request, session Session, readingID string) {
	var body struct {
		Battery *float64 `json:"batLocal"`
		Level   *float64 `json:"nivelLocal"`
		Signal  *float64 `json:"senLocal"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	reading, err := s.service.UpdateReading(r.Context(), session.UserID, readingID, UpdateReadingInput{
		Battery: body.Battery,
		Level:   body.Level,
		Signal:  body.Signal,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Record updated successfully", readingJSON(reading))
}

func (s *HTTPServer) handleDeleteReading(w http.ResponseWriter, r *http.Request, session Session, readingID string) {
	if err := s.service.DeleteReading(r.Context(), session.UserID, readingID); err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Record deleted successfully", nil)
}

func (s *HTTPServer) routeGrants(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "my-plants":
		s.handleMyPlants(w, r, session)
	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "users":
		s.handleInviteUser(w, r, session, rest[0])
	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "users":
		s.handleListPlantUsers(w, r, session, rest[0])
	case r.Method == http.MethodPut && len(rest) == 3 && rest[1] == "users":
		s.handleUpdateGrantRole(w, r, session, rest[0], rest[2])
	case r.Method == http.MethodDelete && len(rest) == 3 && rest[1] == "users":
		s.handleRemoveUser(w, r, session, rest[0], rest[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMyPlants(w http.ResponseWriter, r *http.Request, session Session) {
	grants, err := s.service.MyPlants(r.Context(), session.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", grantListJSON(grants))
}

func (s *HTTPServer) handleInviteUser(w http.ResponseWriter, r *http.Request, session Session, plantID string) {
	var body struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
		Role   string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	grant, err := s.service.InviteUser(r.Context(), session.UserID, plantID, InviteInput{
		UserID: body.UserID,
		Email:  body.Email,
		Role:   body.Role,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "User assigned to plant successfully", grantJSON(grant))
}

func (s *HTTPServer) handleListPlantUsers(w http.ResponseWriter, r *http.Request, session Session, plantID string) {
	grants, err := s.service.ListPlantUsers(r.Context(), session.UserID, plantID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", grantListJSON(grants))
}

func (s *HTTPServer) handleUpdateGrantRole(w http.ResponseWriter, r *http.Request, session Session, plantID, grantID string) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	grant, err := s.service.UpdateGrantRole(r.Context(), session.UserID, plantID, grantID, body.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Role updated successfully", grantJSON(grant))
}

func (s *HTTPServer) handleRemoveUser(w http.ResponseWriter, r *http.Request, session Session, plantID, grantID string) {
	if err := s.service.RemoveUser(r.Context(), session.UserID, plantID, grantID); err != nil {
		respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User removed from plant successfully", nil)
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	writeError(w, status, code, message, details)
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
