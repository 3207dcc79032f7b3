package app

import (
	"plantguard/api/internal/store"
)

// View mappers shape store rows into the wire format. Field names follow the
// device firmware vocabulary (batLocal, nivelLocal, senLocal).

func userJSON(user store.User) map[string]any {
	view := map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"isVerified": user.IsVerified,
		"createdAt":  user.CreatedAt,
	}
	if user.LastLoginAt != nil {
		view["lastLoginAt"] = user.LastLoginAt
	}
	return view
}

func plantJSON(plant store.PlantWithLatest, includeLatest bool) map[string]any {
	view := map[string]any{
		"id":          plant.ID,
		"name":        plant.Name,
		"location":    plant.Location,
		"description": plant.Description,
		"isActive":    plant.IsActive,
		"createdAt":   plant.CreatedAt,
		"updatedAt":   plant.UpdatedAt,
	}
	if plant.Role != "" {
		view["role"] = plant.Role
	}
	if includeLatest {
		if plant.Latest != nil {
			view["latestData"] = readingJSON(*plant.Latest)
		} else {
			view["latestData"] = nil
		}
	}
	return view
}

func plantListJSON(plants []store.PlantWithLatest, includeLatest bool) []map[string]any {
	views := make([]map[string]any, 0, len(plants))
	for _, plant := range plants {
		views = append(views, plantJSON(plant, includeLatest))
	}
	return views
}

func readingJSON(reading store.Reading) map[string]any {
	view := map[string]any{
		"id":         reading.ID,
		"plantId":    reading.PlantID,
		"batLocal":   reading.Battery,
		"nivelLocal": reading.Level,
		"senLocal":   reading.Signal,
		"timestamp":  reading.RecordedAt,
	}
	if reading.PlantName != "" {
		view["plantName"] = reading.PlantName
	}
	if reading.PlantLocation != "" {
		view["plantLocation"] = reading.PlantLocation
	}
	return view
}

func readingListJSON(readings []store.Reading) []map[string]any {
	views := make([]map[string]any, 0, len(readings))
	for _, reading := range readings {
		views = append(views, readingJSON(reading))
	}
	return views
}

func grantJSON(grant store.Grant) map[string]any {
	view := map[string]any{
		"id":        grant.ID,
		"userId":    grant.UserID,
		"plantId":   grant.PlantID,
		"role":      grant.Role,
		"isActive":  grant.IsActive,
		"createdAt": grant.CreatedAt,
		"updatedAt": grant.UpdatedAt,
	}
	if grant.UserName != "" {
		view["user"] = map[string]any{
			"id":    grant.UserID,
			"name":  grant.UserName,
			"email": grant.UserEmail,
		}
	}
	if grant.PlantName != "" {
		view["plant"] = map[string]any{
			"id":          grant.PlantID,
			"name":        grant.PlantName,
			"location":    grant.PlantLocation,
			"description": grant.PlantDescription,
			"isActive":    grant.PlantActive,
		}
	}
	return view
}

func grantListJSON(grants []store.Grant) []map[string]any {
	views := make([]map[string]any, 0, len(grants))
	for _, grant := range grants {
		views = append(views, grantJSON(grant))
	}
	return views
}

func statsJSON(stats store.ReadingStats) map[string]any {
	return map[string]any{
		"totalRecords":   stats.TotalRecords,
		"firstRecord":    stats.FirstRecord,
		"lastRecord":     stats.LastRecord,
		"avgBatLocal":    stats.AvgBattery,
		"minBatLocal":    stats.MinBattery,
		"maxBatLocal":    stats.MaxBattery,
		"avgNivelLocal":  stats.AvgLevel,
		"minNivelLocal":  stats.MinLevel,
		"maxNivelLocal":  stats.MaxLevel,
		"avgSenLocal":    stats.AvgSignal,
		"minSenLocal":    stats.MinSignal,
		"maxSenLocal":    stats.MaxSignal,
	}
}
