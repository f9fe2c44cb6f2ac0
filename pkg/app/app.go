package app

import (
	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/homeassistant"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/mqtt"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/web"
)

type Application struct {
	config   *config.Config
	logger   *logrus.Logger
	version  string
	services *ServiceManager
	handlers *EventHandlers
}

func NewApplication(cfg *config.Config, logger *logrus.Logger, version string) *Application {
	app := &Application{
		config:  cfg,
		logger:  logger,
		version: version,
	}

	app.services = NewServiceManager(logger)
	app.handlers = NewEventHandlers(logger)

	return app
}

func (app *Application) Initialize() error {
	app.logger.Info("Initializing application components...")

	bridgeAvailabilityTopic := homeassistant.GenerateBridgeAvailabilityTopic(&app.config.HomeAssistant)

	mqttClient, err := mqtt.NewClient(
		&app.config.MQTT,
		bridgeAvailabilityTopic,
		app.logger,
	)
	if err != nil {
		return err
	}

	haManager := homeassistant.NewIntegration(
		mqttClient,
		&app.config.HomeAssistant,
		app.version,
		app.logger,
	)

	printerManager := ultimaker.NewPrinterManagerFromMap(app.config.Printers, app.logger)

	for _, printerConfig := range app.config.Printers {
		printerName := printerConfig.Name
		if printerName == "" {
			printerName = printerConfig.ID
		}
		haManager.AddPrinter(printerConfig.ID, printerName, &printerConfig)
	}

	app.services.Register("mqtt", mqttClient)
	app.services.Register("homeassistant", haManager)
	app.services.Register("printers", printerManager)

	if app.config.Web.Enabled {
		webServer := web.NewServer(&app.config.Web, printerManager, app.version, app.logger)
		app.services.Register("web", webServer)
	}

	app.handlers.SetupHandlers(haManager, printerManager)

	return nil
}

func (app *Application) Start() error {
	return app.services.StartAll()
}

func (app *Application) Stop() error {
	return app.services.StopAll()
}
