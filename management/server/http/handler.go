package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	s "github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/telemetry"
)

type apiHandler struct {
	Router        *mux.Router
	UpdateManager s.UpdateManager
}

// APIHandler creates the decision service HTTP API handler registering all the available endpoints.
// A non-empty cdnDir is served read-only under CDNPathPrefix.
func APIHandler(updateManager s.UpdateManager, appMetrics telemetry.AppMetrics, cdnDir string) (http.Handler, error) {
	corsMiddleware := cors.AllowAll()

	rootRouter := mux.NewRouter()
	metricsMiddleware := appMetrics.HTTPMiddleware()

	router := rootRouter.PathPrefix("/v1").Subrouter()
	router.Use(metricsMiddleware.Handler, corsMiddleware.Handler)

	api := apiHandler{
		Router:        router,
		UpdateManager: updateManager,
	}

	api.addUpdatesEndpoint()
	api.addTelemetryEndpoint()
	api.addReleasesEndpoint()

	err := api.Router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		methods, err := route.GetMethods()
		if err != nil {
			return err
		}
		for _, method := range methods {
			template, err := route.GetPathTemplate()
			if err != nil {
				return err
			}
			err = metricsMiddleware.AddHTTPRequestResponseCounter(template, method)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cdnDir != "" {
		origin := NewCDNOrigin(cdnDir)
		rootRouter.PathPrefix(CDNPathPrefix).
			Handler(metricsMiddleware.Handler(corsMiddleware.Handler(origin))).
			Methods("GET", "HEAD", "OPTIONS")
	}

	return rootRouter, nil
}

func (apiHandler *apiHandler) addUpdatesEndpoint() {
	updatesHandler := NewUpdatesHandler(apiHandler.UpdateManager)
	apiHandler.Router.HandleFunc("/update", updatesHandler.GetUpdate).Methods("GET", "OPTIONS")
	apiHandler.Router.HandleFunc("/rollout", updatesHandler.SetRollout).Methods("POST", "OPTIONS")
}

func (apiHandler *apiHandler) addTelemetryEndpoint() {
	telemetryHandler := NewTelemetryHandler(apiHandler.UpdateManager)
	apiHandler.Router.HandleFunc("/telemetry", telemetryHandler.RecordEvent).Methods("POST", "OPTIONS")
}

func (apiHandler *apiHandler) addReleasesEndpoint() {
	releasesHandler := NewReleasesHandler(apiHandler.UpdateManager)
	apiHandler.Router.HandleFunc("/releases", releasesHandler.GetAllReleases).Methods("GET", "OPTIONS")
	apiHandler.Router.HandleFunc("/releases", releasesHandler.CreateRelease).Methods("POST", "OPTIONS")
}
