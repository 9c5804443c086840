package cmd

const (
	defaultMgmtDataDir   = "/var/lib/kivyx-ota/"
	defaultMgmtConfigDir = "/etc/kivyx-ota"
	defaultLogDir        = "/var/log/kivyx-ota"

	defaultMgmtConfig = defaultMgmtConfigDir + "/server.json"
	defaultLogFile    = defaultLogDir + "/server.log"

	defaultMgmtPort    = 8080
	defaultMetricsPort = 9090
)
