package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var colorPalette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
}

var (
	errorColor = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
)

// ComposeConfig is the part of docker-compose.yml we need.
type ComposeConfig struct {
	Services map[string]any `yaml:"services"`
}

func main() {
	composePath := flag.String("compose", "docker-compose.yml", "Path to the compose file of the dev stack")
	only := flag.String("services", "", "Comma separated services to follow (default all)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Fatalf("failed to create Docker client: %v", err)
	}
	defer func() {
		if err := cli.Close(); err != nil {
			log.Printf("error closing Docker client: %v", err)
		}
	}()

	services, err := composeServices(*composePath, *only)
	if err != nil {
		log.Fatal(err)
	}

	var wg sync.WaitGroup
	log.Println("Starting log streams...")
	for i, serviceName := range services {
		wg.Add(1)
		go streamServiceLogs(ctx, &wg, cli, serviceName, colorPalette[i%len(colorPalette)])
	}

	wg.Wait()
	log.Println("All log streams finished.")
}

func composeServices(path, only string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg ComposeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	wanted := map[string]bool{}
	for _, s := range strings.Split(only, ",") {
		if s = strings.TrimSpace(s); s != "" {
			wanted[s] = true
		}
	}
	var names []string
	for name := range cfg.Services {
		if len(wanted) == 0 || wanted[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no services to follow in %s", path)
	}
	return names, nil
}

func streamServiceLogs(ctx context.Context, wg *sync.WaitGroup, cli *client.Client, serviceName string, c *color.Color) {
	defer wg.Done()

	// compose labels each container with its service name
	containers, err := cli.ContainerList(ctx, containerTypes.ListOptions{})
	if err != nil {
		log.Printf("error listing containers for %s: %v", serviceName, err)
		return
	}
	var containerID string
	for _, cont := range containers {
		if cont.Labels["com.docker.compose.service"] == serviceName {
			containerID = cont.ID
			break
		}
	}
	if containerID == "" {
		log.Printf("container for service %s not found", serviceName)
		return
	}

	logReader, err := cli.ContainerLogs(ctx, containerID, containerTypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		log.Printf("error getting logs for %s: %v", serviceName, err)
		return
	}
	defer func() {
		if err := logReader.Close(); err != nil {
			log.Printf("error closing log reader for %s: %v", serviceName, err)
		}
	}()

	prefix := c.Sprintf("[%s]", serviceName)
	scanner := bufio.NewScanner(logReader)
	for scanner.Scan() {
		fmt.Printf("%-25s %s\n", prefix, colorize(scanner.Text()))
	}
}

// colorize highlights slog JSON lines by level.
func colorize(line string) string {
	start := strings.IndexByte(line, '{')
	if start < 0 {
		return line
	}
	var entry struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal([]byte(line[start:]), &entry); err != nil {
		return line
	}
	switch entry.Level {
	case "ERROR":
		return errorColor.Sprint(line)
	case "WARN":
		return warnColor.Sprint(line)
	}
	return line
}
