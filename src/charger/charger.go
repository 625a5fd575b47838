// Package charger decides whether each charger can accept power right now.
package charger

const (
	StateCharging    = "charging"
	StateReady       = "ready"
	StateIdle        = "idle"
	StateUnavailable = "unavailable"
)

// Reader looks up the current state of a Home Assistant entity
type Reader interface {
	Read(entityID string) (string, bool)
}

// State is the verdict for one charger
type State struct {
	Available bool     `json:"available"`
	State     string   `json:"state"`
	Reasons   []string `json:"reasons"`
}

// WallboxEntities are the wallbox sensors used for availability
type WallboxEntities struct {
	Cable  string
	Status string
}

// VehicleEntities are the car-side sensors used for availability
type VehicleEntities struct {
	Gun    string
	Active string
}

// read treats unconfigured entities and HA sentinel states as absent
func read(r Reader, entityID string) (string, bool) {
	if entityID == "" {
		return "", false
	}
	value, ok := r.Read(entityID)
	if !ok || value == "unknown" || value == "unavailable" {
		return "", false
	}
	return value, true
}

func disconnected(value string, ok bool) bool {
	if !ok {
		return true
	}
	switch value {
	case "disconnected", "off", "false":
		return true
	}
	return false
}

func settle(charging bool, reasons []string) State {
	state := State{Available: len(reasons) == 0, Reasons: reasons}
	switch {
	case charging:
		state.State = StateCharging
	case state.Available:
		state.State = StateReady
	default:
		state.State = StateIdle
	}
	return state
}

// EvaluateWallbox checks the wallbox cable and status code
func EvaluateWallbox(r Reader, e WallboxEntities) State {
	if e.Cable == "" && e.Status == "" {
		return State{State: StateUnavailable, Reasons: []string{"no_entities"}}
	}

	reasons := []string{}
	if disconnected(read(r, e.Cable)) {
		reasons = append(reasons, "cable_disconnected")
	}

	status, ok := read(r, e.Status)
	if !ok {
		reasons = append(reasons, "status_none")
	} else if status != "ready" && status != "charging" {
		reasons = append(reasons, "status_"+status)
	}

	return settle(ok && status == "charging", reasons)
}

// EvaluateVehicle checks the vehicle charging gun and the charging-active flag
func EvaluateVehicle(r Reader, e VehicleEntities) State {
	reasons := []string{}
	if disconnected(read(r, e.Gun)) {
		reasons = append(reasons, "gun_disconnected")
	}

	active, ok := read(r, e.Active)
	return settle(ok && active == "on", reasons)
}
