package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/ensemble/internal/client"
)

// Generic argument tables are the common currency of both scenario formats:
// the Lua DSL produces map[string]any step args, and the YAML loader
// unmarshals into the same shape. Decoding to the typed Action/Validation
// variants happens here, once.

func decodeAction(args map[string]any) (Action, error) {
	kind := ActionKind(requiredString(args, "kind"))
	action := Action{Kind: kind}

	switch kind {
	case ActionCreateRoom, ActionJoinRoom:
		action.Client = requiredString(args, "client")
		action.Room = optionalString(args, "room", "main")
	case ActionBulkJoin:
		clients, err := stringSlice(args, "clients")
		if err != nil {
			return Action{}, err
		}
		action.Clients = clients
		action.Room = optionalString(args, "room", "main")
	case ActionMove:
		clients, err := stringSlice(args, "clients")
		if err != nil {
			return Action{}, err
		}
		if len(clients) == 0 {
			if single := optionalString(args, "client", ""); single != "" {
				clients = []string{single}
			}
		}
		action.Clients = clients
		dir, err := client.ParseDirection(optionalString(args, "direction", ""))
		if err != nil {
			return Action{}, fmt.Errorf("move action: %w", err)
		}
		action.Direction = dir
		hold, err := durationArg(args, "hold")
		if err != nil {
			return Action{}, fmt.Errorf("move action: %w", err)
		}
		action.Hold = hold
	case ActionDisconnect, ActionReconnect:
		action.Client = requiredString(args, "client")
	case ActionWait:
		wait, err := durationArg(args, "duration")
		if err != nil {
			return Action{}, fmt.Errorf("wait action: %w", err)
		}
		action.Wait = wait
	default:
		return Action{}, fmt.Errorf("unknown action kind %q", kind)
	}
	return action, nil
}

func decodeValidation(args map[string]any) (Validation, error) {
	kind := ValidationKind(requiredString(args, "kind"))
	validation := Validation{
		Kind:     kind,
		Room:     optionalString(args, "room", ""),
		Observer: optionalString(args, "observer", ""),
	}

	switch kind {
	case ValidationMemberCount:
		validation.Count = optionalInt(args, "count", -1)
		if validation.Room == "" {
			validation.Room = "main"
		}
	case ValidationMemberVisible:
		validation.Target = requiredString(args, "target")
		if validation.Room == "" {
			validation.Room = "main"
		}
	case ValidationPositionNear:
		validation.Target = requiredString(args, "client")
		if validation.Room == "" {
			validation.Room = "main"
		}
		x, err := floatArg(args, "x")
		if err != nil {
			return Validation{}, fmt.Errorf("position_near: %w", err)
		}
		y, err := floatArg(args, "y")
		if err != nil {
			return Validation{}, fmt.Errorf("position_near: %w", err)
		}
		validation.Position = client.Position{X: x, Y: y}
		tolerance, err := floatArg(args, "tolerance")
		if err != nil {
			return Validation{}, fmt.Errorf("position_near: %w", err)
		}
		validation.Tolerance = tolerance
	case ValidationRoomExists, ValidationRoomAbsent:
		if validation.Room == "" {
			validation.Room = "main"
		}
	case ValidationConnectionState:
		validation.Target = requiredString(args, "client")
		connected, ok := args["connected"].(bool)
		if !ok {
			return Validation{}, fmt.Errorf("connection_state requires a boolean connected arg")
		}
		validation.Connected = connected
	default:
		return Validation{}, fmt.Errorf("unknown validation kind %q", kind)
	}
	return validation, nil
}

func requiredString(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return strings.TrimSpace(value)
}

func optionalString(args map[string]any, key, fallback string) string {
	value, ok := args[key].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func optionalInt(args map[string]any, key string, fallback int) int {
	switch value := args[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	}
	return fallback
}

func floatArg(args map[string]any, key string) (float64, error) {
	switch value := args[key].(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	}
	return 0, fmt.Errorf("%s must be a number", key)
}

// durationArg accepts either a Go duration string ("750ms") or a bare
// number of seconds.
func durationArg(args map[string]any, key string) (time.Duration, error) {
	switch value := args[key].(type) {
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return time.Duration(value * float64(time.Second)), nil
	case int:
		return time.Duration(value) * time.Second, nil
	case int64:
		return time.Duration(value) * time.Second, nil
	}
	return 0, fmt.Errorf("%s must be a duration string or seconds", key)
}

func stringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list of client names", key)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must contain only strings", key)
		}
		names = append(names, strings.TrimSpace(name))
	}
	return names, nil
}

// buildPlan assembles a Plan from decoded step specs, assigning indexes.
func buildPlan(name string, clients []string, specs []stepSpec) (*Plan, error) {
	plan := &Plan{Name: name, Clients: clients}
	for i, spec := range specs {
		action, err := decodeAction(spec.Action)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, spec.Name, err)
		}
		step := &Step{
			Index:       i,
			Name:        spec.Name,
			Description: spec.Description,
			Action:      action,
			Status:      StatusPending,
		}
		for _, rawValidation := range spec.Validations {
			validation, err := decodeValidation(rawValidation)
			if err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i, spec.Name, err)
			}
			step.Validations = append(step.Validations, validation)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// stepSpec is the format-independent raw form of one step.
type stepSpec struct {
	Name        string
	Description string
	Action      map[string]any
	Validations []map[string]any
}
