package weather

// Triggers are the conditions that fire an event when the entity changes to them
var Triggers = []string{
	"clear-night",
	"cloudy",
	"exceptional",
	"fog",
	"hail",
	"lightning",
	"lightning-rainy",
	"partlycloudy",
	"pouring",
	"rainy",
	"snowy",
	"snowy-rainy",
	"sunny",
	"windy",
	"windy-variant",
}

var triggerSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Triggers))
	for _, t := range Triggers {
		set[t] = struct{}{}
	}
	return set
}()

// IsTrigger reports whether condition is one of the trigger conditions
func IsTrigger(condition string) bool {
	_, ok := triggerSet[condition]
	return ok
}
