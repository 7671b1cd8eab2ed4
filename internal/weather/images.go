package weather

import (
	"fmt"
	"net/url"
)

// ImageSourceYandex serves the provider's own icons
const ImageSourceYandex = "Yandex"

// ImageURL picks the entity picture. The Yandex source uses the icon name the
// provider returned; any other source is a local icon set keyed by condition.
func ImageURL(source, condition string, isDay bool, image string) string {
	if source == "" || source == ImageSourceYandex {
		if image == "" {
			return ""
		}
		return fmt.Sprintf("https://yastatic.net/weather/i/icons/funky/dark/%s.svg", url.PathEscape(image))
	}

	if condition == "" {
		return ""
	}

	phase := "night"
	if isDay {
		phase = "day"
	}
	return fmt.Sprintf("/local/%s/%s/%s/%s.svg",
		Domain, url.PathEscape(source), phase, url.PathEscape(condition))
}
