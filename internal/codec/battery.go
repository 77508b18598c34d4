package codec

// BatteryTier buckets a 0-100 battery level for display.
type BatteryTier string

const (
	BatteryCritical BatteryTier = "critical"
	BatteryLow      BatteryTier = "low"
	BatteryMedium   BatteryTier = "medium"
	BatteryHigh     BatteryTier = "high"
	BatteryFull     BatteryTier = "full"
)

// TierForBattery returns the tier of level. Values above 100 are treated as full.
func TierForBattery(level uint8) BatteryTier {
	switch {
	case level < 15:
		return BatteryCritical
	case level < 40:
		return BatteryLow
	case level < 65:
		return BatteryMedium
	case level < 90:
		return BatteryHigh
	default:
		return BatteryFull
	}
}
