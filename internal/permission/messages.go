package permission

const (
	msgDenied = "Gyroscope permissions have been denied. Please clear the website data from " +
		"Settings -> Safari -> Advanced -> Website Data, then refresh the page and tap the gyroscope toggle."
	msgEnableInSettings = "Please enable Motion & Orientation Access from Settings -> Safari, " +
		"then refresh the page and tap the gyroscope toggle."
	msgUnsupported = "The Gyroscope is not supported on this device."
)

// RemediationFor returns the user-facing guidance for a failed sensor
// enable on the given family.
func RemediationFor(fam Family, strategy Strategy) string {
	switch {
	case strategy == StrategyUnsupported:
		return msgUnsupported
	case fam.Constrained() && strategy == StrategyGated:
		return msgDenied
	case fam.Constrained():
		return msgEnableInSettings
	default:
		return msgUnsupported
	}
}
