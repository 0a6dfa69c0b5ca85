package commands

import (
	"fmt"

	"multicam/internal/capture"
	"multicam/internal/config"
	"multicam/internal/convert"
	"multicam/internal/driver/v4l2"
)

// buildSystem starts every configured camera and assembles the capture
// system. Cameras started before a later failure are stopped again so
// no device is left streaming.
func buildSystem(cfg *config.Config) (*capture.System, func(), error) {
	if len(cfg.Cameras) == 0 {
		return nil, nil, fmt.Errorf("no cameras configured")
	}

	cams := make([]*capture.Camera, 0, len(cfg.Cameras))
	stop := func() {
		for _, cam := range cams {
			cam.Stop()
		}
	}

	for _, cc := range cfg.Cameras {
		cam, err := capture.New(capture.Options{
			Device: cc.Device,
			Width:  cc.Width,
			Height: cc.Height,
			FPS:    cc.FPS,
			Format: cc.Format,
		}, v4l2.Open, convert.Converter{})
		if err != nil {
			stop()
			return nil, nil, err
		}
		if err := cam.Start(); err != nil {
			stop()
			return nil, nil, err
		}
		cams = append(cams, cam)
	}

	sys, err := capture.NewSystem(cams)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return sys, stop, nil
}
