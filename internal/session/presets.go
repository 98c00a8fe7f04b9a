package session

// Preset is a quick-access button that submits a fixed question.
type Preset struct {
	ID       string `json:"id"`
	Icon     string `json:"icon"`
	Label    string `json:"label"`
	Question string `json:"question"`
}

var presets = []Preset{
	{"comms-failure", "📡", "Communications Failure", "What to do during communications equipment failure?"},
	{"fire-hazard", "🔥", "Fire Hazard", "How to respond to a fire outbreak in the field?"},
	{"explosive-threat", "💥", "Explosive Threat", "What are the immediate steps when encountering an explosive or bomb threat?"},
	{"casualty-evacuation", "🏥", "Casualty Evacuation", "How to perform a safe and efficient casualty evacuation?"},
	{"ambush-response", "🚨", "Ambush Response", "What are the tactical steps to take during an ambush?"},
	{"cold-injuries", "❄️", "Hypothermia & Cold Injuries", "How to prevent and treat hypothermia in extreme cold conditions?"},
	{"heat-exhaustion", "🌡️", "Heat Exhaustion & Dehydration", "What are the signs and first aid measures for heat exhaustion?"},
	{"minefield", "🚧", "Minefield Encounter", "What are the safety protocols when encountering a suspected minefield?"},
	{"sniper-threat", "🎯", "Sniper Threat", "How to react and take cover in a sniper threat situation?"},
	{"cbrn-attack", "🦠", "Biological or Chemical Attack", "How to respond in case of a suspected biological or chemical attack?"},
	{"lost-terrain", "📍", "Lost in Unfamiliar Terrain", "What are the survival steps if lost in an unfamiliar environment?"},
	{"power-failure", "🔋", "Power & Equipment Failure", "What to do in case of critical equipment or power failure?"},
}

// Presets returns the quick-access presets in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset finds a preset by ID.
func LookupPreset(id string) (Preset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}
