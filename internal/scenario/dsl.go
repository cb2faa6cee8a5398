package scenario

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

// Lua scenario DSL. A script builds a scenario value and returns it:
//
//	local scene = Scenario.new("four players")
//	scene:clients({"alice", "bob"})
//	scene:create_room("alice", {room = "main"})
//	scene:join_room("bob", {room = "main", validations = {
//	    {kind = "member_count", room = "main", count = 2},
//	}})
//	return scene
//
// Convenience methods cover each action kind; the general form is
// scene:step(name, {action = {...}, validations = {{...}}}). Steps without
// explicit validations get a per-kind default (create_room asserts
// room_exists, joins assert self-visibility, disconnect/reconnect assert
// the connection flag).

const scenarioTypeName = "scenario"

type luaScenario struct {
	name    string
	clients []string
	steps   []stepSpec
}

// LoadLuaFile evaluates a Lua scenario script and builds the plan.
func LoadLuaFile(path string) (*Plan, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	registerScenarioType(state)
	registerScenarioConstructor(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}

	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return a Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	builder, ok := ud.(*luaScenario)
	if !ok || builder == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	if strings.TrimSpace(builder.name) == "" {
		builder.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	plan, err := buildPlan(builder.name, builder.clients, builder.steps)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func registerScenarioType(state *lua.State) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerScenarioConstructor(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, scenarioConstructor, 0)
	state.SetGlobal("Scenario")
}

var scenarioConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scenarioNew},
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	state.PushUserData(&luaScenario{name: name})
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

var scenarioMethods = []lua.RegistryFunction{
	{Name: "clients", Function: scenarioClients},
	{Name: "step", Function: scenarioStep},
	{Name: "create_room", Function: scenarioCreateRoom},
	{Name: "join_room", Function: scenarioJoinRoom},
	{Name: "bulk_join", Function: scenarioBulkJoin},
	{Name: "move", Function: scenarioMove},
	{Name: "disconnect", Function: scenarioDisconnect},
	{Name: "reconnect", Function: scenarioReconnect},
	{Name: "wait", Function: scenarioWait},
}

func scenarioClients(state *lua.State) int {
	builder := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	values, _ := tableToGo(state, 2).([]any)
	for _, value := range values {
		if name, ok := value.(string); ok {
			builder.clients = append(builder.clients, name)
		}
	}
	return 0
}

func scenarioStep(state *lua.State) int {
	builder := checkScenario(state)
	name := lua.CheckString(state, 2)
	lua.CheckType(state, 3, lua.TypeTable)
	data := tableToMap(state, 3)

	action, _ := data["action"].(map[string]any)
	if action == nil {
		lua.ArgumentError(state, 3, "step requires an action table")
		return 0
	}
	builder.appendStep(name, action, data)
	return 0
}

func scenarioCreateRoom(state *lua.State) int {
	builder := checkScenario(state)
	clientName := lua.CheckString(state, 2)
	opts := optionalTable(state, 3)
	action := map[string]any{"kind": "create_room", "client": clientName}
	mergeActionOpts(action, opts, "room")
	builder.appendStep(fmt.Sprintf("%s creates a room", clientName), action, opts)
	return 0
}

func scenarioJoinRoom(state *lua.State) int {
	builder := checkScenario(state)
	clientName := lua.CheckString(state, 2)
	opts := optionalTable(state, 3)
	action := map[string]any{"kind": "join_room", "client": clientName}
	mergeActionOpts(action, opts, "room")
	builder.appendStep(fmt.Sprintf("%s joins the room", clientName), action, opts)
	return 0
}

func scenarioBulkJoin(state *lua.State) int {
	builder := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	clients, _ := tableToGo(state, 2).([]any)
	opts := optionalTable(state, 3)
	action := map[string]any{"kind": "bulk_join", "clients": clients}
	mergeActionOpts(action, opts, "room")
	builder.appendStep(fmt.Sprintf("%d clients join the room", len(clients)), action, opts)
	return 0
}

func scenarioMove(state *lua.State) int {
	builder := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	opts := tableToMap(state, 2)
	action := map[string]any{"kind": "move"}
	mergeActionOpts(action, opts, "client", "clients", "direction", "hold", "room")
	builder.appendStep("move", action, opts)
	return 0
}

func scenarioDisconnect(state *lua.State) int {
	builder := checkScenario(state)
	clientName := lua.CheckString(state, 2)
	opts := optionalTable(state, 3)
	action := map[string]any{"kind": "disconnect", "client": clientName}
	builder.appendStep(fmt.Sprintf("%s disconnects", clientName), action, opts)
	return 0
}

func scenarioReconnect(state *lua.State) int {
	builder := checkScenario(state)
	clientName := lua.CheckString(state, 2)
	opts := optionalTable(state, 3)
	action := map[string]any{"kind": "reconnect", "client": clientName}
	builder.appendStep(fmt.Sprintf("%s reconnects", clientName), action, opts)
	return 0
}

func scenarioWait(state *lua.State) int {
	builder := checkScenario(state)
	duration := lua.CheckString(state, 2)
	action := map[string]any{"kind": "wait", "duration": duration}
	builder.appendStep(fmt.Sprintf("wait %s", duration), action, map[string]any{})
	return 0
}

// mergeActionOpts copies the named keys from opts into the action table.
func mergeActionOpts(action, opts map[string]any, keys ...string) {
	for _, key := range keys {
		if value, ok := opts[key]; ok {
			action[key] = value
		}
	}
}

func (b *luaScenario) appendStep(name string, action map[string]any, opts map[string]any) {
	spec := stepSpec{Name: name, Action: action}
	if opts != nil {
		if description, ok := opts["description"].(string); ok {
			spec.Description = description
		}
		if override, ok := opts["name"].(string); ok && override != "" {
			spec.Name = override
		}
		if raw, ok := opts["validations"].([]any); ok {
			for _, item := range raw {
				if validation, ok := item.(map[string]any); ok {
					spec.Validations = append(spec.Validations, validation)
				}
			}
		}
	}
	if len(spec.Validations) == 0 {
		spec.Validations = defaultValidations(action)
	}
	b.steps = append(b.steps, spec)
}

// defaultValidations supplies the per-kind assertion used when a DSL step
// omits explicit validations.
func defaultValidations(action map[string]any) []map[string]any {
	room := optionalString(action, "room", "main")
	switch ActionKind(requiredString(action, "kind")) {
	case ActionCreateRoom:
		return []map[string]any{{"kind": "room_exists", "room": room}}
	case ActionJoinRoom:
		clientName := requiredString(action, "client")
		return []map[string]any{{
			"kind": "member_visible", "room": room,
			"observer": clientName, "target": clientName,
		}}
	case ActionBulkJoin:
		validations := make([]map[string]any, 0)
		if clients, ok := action["clients"].([]any); ok {
			for _, item := range clients {
				if name, ok := item.(string); ok {
					validations = append(validations, map[string]any{
						"kind": "member_visible", "room": room,
						"observer": name, "target": name,
					})
				}
			}
		}
		return validations
	case ActionDisconnect:
		return []map[string]any{{
			"kind": "connection_state", "room": room,
			"client": requiredString(action, "client"), "connected": false,
		}}
	case ActionReconnect:
		return []map[string]any{{
			"kind": "connection_state", "room": room,
			"client": requiredString(action, "client"), "connected": true,
		}}
	}
	return nil
}

func checkScenario(state *lua.State) *luaScenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if builder, ok := ud.(*luaScenario); ok && builder != nil {
		return builder
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func optionalTable(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) || state.TypeOf(index) != lua.TypeTable {
		return map[string]any{}
	}
	return tableToMap(state, index)
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	case lua.TypeUserData:
		return state.ToUserData(index)
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a Go slice when it is a dense
// positive-integer-keyed array, or a map otherwise.
func tableToGo(state *lua.State, index int) any {
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
