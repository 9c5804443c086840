package util

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	log "github.com/sirupsen/logrus"
)

const maxConfigFileSize = 10 * 1024 * 1024

// WriteJson writes JSON config object to a file creating parent directories if required
// The output JSON is pretty-formatted
func WriteJson(ctx context.Context, file string, obj interface{}) error {
	if ctx.Err() != nil {
		return fmt.Errorf("write json start: %w", ctx.Err())
	}

	bs, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	return WriteBytes(ctx, file, bs)
}

// WriteBytes replaces file with bs atomically: the content goes to a 0600 temp file in the same
// directory which is then renamed over the target.
func WriteBytes(ctx context.Context, file string, bs []byte) error {
	configDir, configFileName, err := prepareConfigFileDir(file)
	if err != nil {
		return fmt.Errorf("prepare dir: %w", err)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("write bytes start: %w", ctx.Err())
	}

	tempFile, err := os.CreateTemp(configDir, ".*"+configFileName)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tempFileName := tempFile.Name()

	if err := os.Chmod(tempFileName, 0600); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFileName)
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	if _, err = tempFile.Write(bs); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFileName)
		return fmt.Errorf("write: %w", err)
	}

	if err = tempFile.Sync(); err != nil {
		log.Warnf("failed to sync %s: %v", tempFileName, err)
	}

	if err = tempFile.Close(); err != nil {
		_ = os.Remove(tempFileName)
		return fmt.Errorf("close %s: %w", tempFileName, err)
	}

	defer func() {
		if _, err := os.Stat(tempFileName); err == nil {
			_ = os.Remove(tempFileName)
		}
	}()

	if ctx.Err() != nil {
		return fmt.Errorf("after temp file: %w", ctx.Err())
	}

	if err = os.Rename(tempFileName, file); err != nil {
		return fmt.Errorf("move %s to %s: %w", tempFileName, file, err)
	}

	return nil
}

// ReadJson reads JSON config file and maps to a provided interface
func ReadJson(file string, res interface{}) (interface{}, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bs, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(bs, &res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ReadJsonWithEnvSub reads JSON config file and maps to a provided interface with environment variable substitution.
// Variables are referenced as Go template fields, e.g. {{ .OTA_STORE_DSN }}.
func ReadJsonWithEnvSub(file string, res interface{}) (interface{}, error) {
	envVars := getEnvMap()

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bs, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bs) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: maximum size is %d bytes", maxConfigFileSize)
	}

	t, err := template.New("").Parse(string(bs))
	if err != nil {
		return nil, fmt.Errorf("error parsing template: %v", err)
	}

	var output bytes.Buffer
	err = t.Execute(&output, envVars)
	if err != nil {
		return nil, fmt.Errorf("error executing template: %v", err)
	}

	err = json.Unmarshal(output.Bytes(), &res)
	if err != nil {
		return nil, fmt.Errorf("failed parsing Json file after template was executed, err: %v", err)
	}

	return res, nil
}

// FileExists returns true if specified file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// getEnvMap converts the output of os.Environ() to a map
func getEnvMap() map[string]string {
	envMap := make(map[string]string)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}

// prepareConfigFileDir creates the parent directory of file with 0750 permissions
func prepareConfigFileDir(file string) (string, string, error) {
	configDir, configFileName := filepath.Split(file)
	if configDir == "" {
		return filepath.Dir(file), configFileName, nil
	}

	err := os.MkdirAll(configDir, 0750)
	if err != nil {
		return "", "", err
	}

	return configDir, configFileName, err
}
