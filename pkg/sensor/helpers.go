package sensor

import "github.com/ericogr/templog/pkg/config"

// calibration is the linear correction applied to a channel's raw value.
type calibration struct {
	scale  float64
	offset float64
}

// buildChannelSettings extracts the enabled channels and the calibration of
// every configured channel.
func buildChannelSettings(cfg config.Config) (channels []int, cal map[int]calibration) {
	channels = make([]int, 0, len(cfg.Channels))
	cal = make(map[int]calibration, len(cfg.Channels))
	for _, c := range cfg.Channels {
		scale := c.CalibrationScale
		if scale == 0 {
			scale = 1.0
		}
		cal[c.Channel] = calibration{scale: scale, offset: c.CalibrationOffset}
		if c.Enabled {
			channels = append(channels, c.Channel)
		}
	}
	return
}

func applyCalibration(cal map[int]calibration, channel int, raw float64) float64 {
	c, ok := cal[channel]
	if !ok {
		return raw
	}
	return raw*c.scale + c.offset
}
