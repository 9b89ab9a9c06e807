// Command box is the a3s box CLI: a short-lived process that dials
// cmd/boxd's control socket and prints the result. It holds no
// lifecycle logic of its own — every subcommand builds a request
// struct and calls straight into pkg/client.
//
// Grounded on cuemby-warren/cmd/warren/main.go's cobra command tree
// and its truncate/splitEnv/parsePortMappings/formatBytes flag-parsing
// helpers.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/a3s-box/box/pkg/client"
	"github.com/a3s-box/box/pkg/config"
	"github.com/a3s-box/box/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "box",
	Short: "a3s box CLI",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("box version %s\nCommit: %s\n", Version, Commit))
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(attestCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(unsealCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(volumeCmd)

	imageCmd.AddCommand(imagePullCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageRmCmd)
	imageCmd.AddCommand(imageTagCmd)
	imageCmd.AddCommand(imagePushCmd)
	imageCmd.AddCommand(imagePruneCmd)

	networkCmd.AddCommand(networkCreateCmd)
	networkCmd.AddCommand(networkListCmd)
	networkCmd.AddCommand(networkRmCmd)
	networkCmd.AddCommand(networkInspectCmd)

	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeRmCmd)
	volumeCmd.AddCommand(volumeInspectCmd)
	volumeCmd.AddCommand(volumePruneCmd)

	for _, cmd := range []*cobra.Command{createCmd, runCmd} {
		cmd.Flags().StringP("image", "i", "", "Image reference to run (required)")
		cmd.Flags().StringArray("env", nil, "Environment variable KEY=VALUE (repeatable)")
		cmd.Flags().StringArray("label", nil, "Label KEY=VALUE (repeatable)")
		cmd.Flags().StringArray("publish", nil, "Port mapping HOST:CONTAINER[/proto] (repeatable)")
		cmd.Flags().StringArray("volume", nil, "Volume mount NAME:/path[:ro] (repeatable)")
		cmd.Flags().String("workdir", "", "Working directory inside the guest")
		cmd.Flags().Int("vcpus", 0, "vCPUs allotted to the guest")
		cmd.Flags().String("memory", "", "Memory limit, e.g. 512m, 2g")
		cmd.Flags().String("restart", "no", "Restart policy: no, on-failure, always, unless-stopped")
		cmd.Flags().String("network", "default", "Network mode: default, host, none, or a network name")
		cmd.Flags().Bool("read-only", false, "Mount the root filesystem read-only")
		cmd.Flags().Bool("tee", false, "Require TEE attestation for this box")
		cmd.Flags().String("seal-policy", "", "Seal policy when --tee is set: measurement-and-chip, measurement-only, chip-only")
		cmd.Flags().Duration("stop-timeout", 0, "Grace period before SIGKILL on stop")
	}
}

func newClient() (*client.Client, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return client.NewClient(cfg.APISocketPath())
}

// --- flag-parsing helpers ---
// Grounded on cmd/warren/main.go's truncate/splitEnv/parsePortMappings/formatBytes.

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func splitEnv(s string) []string {
	idx := strings.Index(s, "=")
	if idx == -1 {
		return []string{s}
	}
	return []string{s[:idx], s[idx+1:]}
}

func envMap(specs []string) map[string]string {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		kv := splitEnv(s)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		} else {
			out[kv[0]] = ""
		}
	}
	return out
}

func labelMap(specs []string) map[string]string {
	return envMap(specs)
}

// parsePortMappings parses strings like "8080:80" or "8080:80/udp" into
// PortPublish entries.
func parsePortMappings(specs []string) ([]types.PortPublish, error) {
	var out []types.PortPublish
	for _, spec := range specs {
		protocol := "tcp"
		parts := strings.Split(spec, "/")
		if len(parts) == 2 {
			spec = parts[0]
			protocol = strings.ToLower(parts[1])
			if protocol != "tcp" && protocol != "udp" {
				return nil, fmt.Errorf("invalid port spec %q: protocol must be tcp or udp", spec)
			}
		} else if len(parts) > 2 {
			return nil, fmt.Errorf("invalid port spec %q: too many '/' separators", spec)
		}

		portParts := strings.Split(spec, ":")
		if len(portParts) != 2 {
			return nil, fmt.Errorf("invalid port spec %q: want HOST:CONTAINER", spec)
		}
		hostPort, err := strconv.Atoi(portParts[0])
		if err != nil || hostPort <= 0 || hostPort > 65535 {
			return nil, fmt.Errorf("invalid host port in %q", spec)
		}
		containerPort, err := strconv.Atoi(portParts[1])
		if err != nil || containerPort <= 0 || containerPort > 65535 {
			return nil, fmt.Errorf("invalid container port in %q", spec)
		}
		out = append(out, types.PortPublish{
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      protocol,
		})
	}
	return out, nil
}

// parseVolumeMounts parses strings like "data:/var/lib/app" or
// "data:/var/lib/app:ro" into MountSpec entries naming an existing
// named volume.
func parseVolumeMounts(specs []string) ([]types.MountSpec, error) {
	var out []types.MountSpec
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid volume spec %q: want NAME:/path[:ro]", spec)
		}
		readOnly := len(parts) == 3 && parts[2] == "ro"
		out = append(out, types.MountSpec{
			Kind:       types.MountKindNamed,
			VolumeName: parts[0],
			Target:     parts[1],
			ReadOnly:   readOnly,
		})
	}
	return out, nil
}

func parseMemory(mem string) (int64, error) {
	if mem == "" {
		return 0, nil
	}
	mem = strings.ToLower(strings.TrimSpace(mem))
	var value float64
	var unit string
	if _, err := fmt.Sscanf(mem, "%f%s", &value, &unit); err != nil {
		if _, err := fmt.Sscanf(mem, "%f", &value); err != nil {
			return 0, fmt.Errorf("invalid memory format %q (use 512m, 1g, 2048k)", mem)
		}
		return int64(value), nil
	}
	switch unit {
	case "b", "":
		return int64(value), nil
	case "k", "kb":
		return int64(value * 1024), nil
	case "m", "mb":
		return int64(value * 1024 * 1024), nil
	case "g", "gb":
		return int64(value * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("invalid memory unit %q (use b, k, m, g)", unit)
	}
}

// formatBytes formats a byte count into human-readable form.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}

func buildBoxConfig(cmd *cobra.Command, name string, command []string) (types.BoxConfig, error) {
	image, _ := cmd.Flags().GetString("image")
	if image == "" {
		return types.BoxConfig{}, fmt.Errorf("--image is required")
	}
	envSpecs, _ := cmd.Flags().GetStringArray("env")
	labelSpecs, _ := cmd.Flags().GetStringArray("label")
	portSpecs, _ := cmd.Flags().GetStringArray("publish")
	volSpecs, _ := cmd.Flags().GetStringArray("volume")
	workdir, _ := cmd.Flags().GetString("workdir")
	vcpus, _ := cmd.Flags().GetInt("vcpus")
	memStr, _ := cmd.Flags().GetString("memory")
	restart, _ := cmd.Flags().GetString("restart")
	netMode, _ := cmd.Flags().GetString("network")
	readOnly, _ := cmd.Flags().GetBool("read-only")
	wantTEE, _ := cmd.Flags().GetBool("tee")
	sealPolicy, _ := cmd.Flags().GetString("seal-policy")
	stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")

	ports, err := parsePortMappings(portSpecs)
	if err != nil {
		return types.BoxConfig{}, err
	}
	mounts, err := parseVolumeMounts(volSpecs)
	if err != nil {
		return types.BoxConfig{}, err
	}
	memBytes, err := parseMemory(memStr)
	if err != nil {
		return types.BoxConfig{}, err
	}

	mode := types.NetworkModeDefault
	networkName := ""
	switch netMode {
	case "default", "":
		mode = types.NetworkModeDefault
	case "host":
		mode = types.NetworkModeHost
	case "none":
		mode = types.NetworkModeNone
	default:
		mode = types.NetworkModeNamed
		networkName = netMode
	}

	var tee *types.TEEConfig
	if wantTEE {
		tee = &types.TEEConfig{Enabled: true, Policy: types.SealPolicy(sealPolicy)}
	}

	return types.BoxConfig{
		Name:          name,
		Image:         image,
		Command:       command,
		Env:           envMap(envSpecs),
		WorkingDir:    workdir,
		Labels:        labelMap(labelSpecs),
		Resources:     types.ResourceSpec{VCPUs: vcpus, MemoryBytes: memBytes},
		Mounts:        mounts,
		Ports:         ports,
		NetworkMode:   mode,
		NetworkName:   networkName,
		RestartPolicy: types.RestartPolicy{Name: types.RestartPolicyName(restart)},
		ReadOnlyRoot:  readOnly,
		TEE:           tee,
		StopTimeout:   stopTimeout,
	}, nil
}

// --- box lifecycle commands ---

var createCmd = &cobra.Command{
	Use:   "create NAME [-- COMMAND...]",
	Short: "Create a box without starting it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildBoxConfig(cmd, args[0], args[1:])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		rec, err := c.CreateBox(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("create box: %w", err)
		}
		fmt.Printf("✓ Created box %s (%s)\n", rec.ID, rec.ShortID)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run NAME [-- COMMAND...]",
	Short: "Create and start a box",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildBoxConfig(cmd, args[0], args[1:])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := context.Background()
		rec, err := c.CreateBox(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create box: %w", err)
		}
		if err := c.StartBox(ctx, rec.ID); err != nil {
			return fmt.Errorf("start box: %w", err)
		}
		fmt.Printf("✓ Started box %s (%s)\n", rec.ID, rec.ShortID)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start REF",
	Short: "Start a created, stopped, or dead box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.StartBox(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Started %s\n", args[0])
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop REF",
	Short: "Stop a running box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.StopBox(context.Background(), args[0], timeout); err != nil {
			return err
		}
		fmt.Printf("✓ Stopped %s\n", args[0])
		return nil
	},
}

func init() {
	stopCmd.Flags().Duration("timeout", 10*time.Second, "Grace period before SIGKILL")
}

var pauseCmd = &cobra.Command{
	Use:   "pause REF",
	Short: "Pause a running box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.PauseBox(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Paused %s\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume REF",
	Short: "Resume a paused box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.ResumeBox(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Resumed %s\n", args[0])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm REF",
	Short: "Remove a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.RemoveBox(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed %s\n", args[0])
		return nil
	},
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List boxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		recs, err := c.ListBoxes(context.Background())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No boxes found")
			return nil
		}
		fmt.Printf("%-20s %-12s %-10s %-30s %s\n", "NAME", "ID", "STATE", "IMAGE", "CREATED")
		for _, r := range recs {
			id := r.ID
			if len(id) > 12 {
				id = id[:12]
			}
			fmt.Printf("%-20s %-12s %-10s %-30s %s\n",
				truncate(r.Config.Name, 20), id, string(r.State),
				truncate(r.Config.Image, 30), r.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect REF",
	Short: "Show detailed box information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		rec, err := c.InspectBox(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:      %s\n", rec.ID)
		fmt.Printf("Name:    %s\n", rec.Config.Name)
		fmt.Printf("Image:   %s\n", rec.Config.Image)
		fmt.Printf("State:   %s\n", rec.State)
		if rec.Config.Resources.MemoryBytes > 0 {
			fmt.Printf("Memory:  %s\n", formatBytes(rec.Config.Resources.MemoryBytes))
		}
		fmt.Printf("Created: %s\n", rec.CreatedAt.Format(time.RFC3339))
		if rec.IPAddress != "" {
			fmt.Printf("IP:      %s\n", rec.IPAddress)
		}
		if rec.Error != "" {
			fmt.Printf("Error:   %s\n", rec.Error)
		}
		return nil
	},
}

// --- TEE commands ---

var attestCmd = &cobra.Command{
	Use:   "attest REF",
	Short: "Request a signed attestation report from a box's guest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nonce, _ := cmd.Flags().GetString("nonce")
		wantCerts, _ := cmd.Flags().GetBool("certs")
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		result, err := c.Attest(context.Background(), args[0], client.AttestRequest{
			Nonce:     []byte(nonce),
			WantCerts: wantCerts,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Report:  %x\n", result.Blob)
		if len(result.Chain) > 0 {
			fmt.Printf("Chain:   %x\n", result.Chain)
		}
		return nil
	},
}

func init() {
	attestCmd.Flags().String("nonce", "", "Caller-supplied nonce bound into the report")
	attestCmd.Flags().Bool("certs", false, "Also return the certificate chain")
}

var sealCmd = &cobra.Command{
	Use:   "seal REF PLAINTEXT",
	Short: "Seal data to a box's TEE identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, _ := cmd.Flags().GetString("policy")
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		ct, err := c.Seal(context.Background(), args[0], types.SealPolicy(policy), []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", ct)
		return nil
	},
}

func init() {
	sealCmd.Flags().String("policy", string(types.SealPolicyMeasurementAndChip), "Seal policy")
}

var unsealCmd = &cobra.Command{
	Use:   "unseal REF CIPHERTEXT_HEX",
	Short: "Unseal data previously sealed to a box's TEE identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ct, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("decode ciphertext: %w", err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		pt, err := c.Unseal(context.Background(), args[0], ct)
		if err != nil {
			return err
		}
		fmt.Println(string(pt))
		return nil
	},
}

// --- images ---

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage images",
}

var imagePullCmd = &cobra.Command{
	Use:   "pull REF",
	Short: "Pull an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		img, err := c.PullImage(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pulled %s (%s)\n", img.Reference, formatBytes(img.Size))
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List images",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		imgs, err := c.ListImages(context.Background())
		if err != nil {
			return err
		}
		if len(imgs) == 0 {
			fmt.Println("No images found")
			return nil
		}
		fmt.Printf("%-40s %-15s %s\n", "REFERENCE", "SIZE", "PULLED")
		for _, img := range imgs {
			fmt.Printf("%-40s %-15s %s\n", truncate(img.Reference, 40), formatBytes(img.Size), img.PulledAt.Format(time.RFC3339))
		}
		return nil
	},
}

var imageRmCmd = &cobra.Command{
	Use:   "rm REF",
	Short: "Remove an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.RemoveImage(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed %s\n", args[0])
		return nil
	},
}

var imageTagCmd = &cobra.Command{
	Use:   "tag REF NEWTAG",
	Short: "Tag an image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.TagImage(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Tagged %s as %s\n", args[0], args[1])
		return nil
	},
}

var imagePushCmd = &cobra.Command{
	Use:   "push REF",
	Short: "Push an image to its registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.PushImage(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Pushed %s\n", args[0])
		return nil
	},
}

var imagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove unreferenced image layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		reclaimed, err := c.PruneImages(context.Background(), nil)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Reclaimed %s\n", formatBytes(reclaimed))
		return nil
	},
}

// --- networks ---

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage networks",
}

var networkCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subnet, _ := cmd.Flags().GetString("subnet")
		labelSpecs, _ := cmd.Flags().GetStringArray("label")
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		n, err := c.CreateNetwork(context.Background(), args[0], subnet, labelMap(labelSpecs))
		if err != nil {
			return err
		}
		fmt.Printf("✓ Created network %s (%s)\n", n.Name, n.Subnet)
		return nil
	},
}

func init() {
	networkCreateCmd.Flags().String("subnet", "", "Subnet CIDR, e.g. 10.42.1.0/24")
	networkCreateCmd.Flags().StringArray("label", nil, "Label KEY=VALUE (repeatable)")
}

var networkListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		nets, err := c.ListNetworks(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-18s %-15s %s\n", "NAME", "SUBNET", "GATEWAY", "CREATED")
		for _, n := range nets {
			fmt.Printf("%-20s %-18s %-15s %s\n", n.Name, n.Subnet, n.Gateway, n.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var networkInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show detailed network information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		n, err := c.InspectNetwork(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:    %s\n", n.Name)
		fmt.Printf("Subnet:  %s\n", n.Subnet)
		fmt.Printf("Gateway: %s\n", n.Gateway)
		return nil
	},
}

var networkRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.RemoveNetwork(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed network %s\n", args[0])
		return nil
	},
}

// --- volumes ---

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, _ := cmd.Flags().GetString("driver")
		labelSpecs, _ := cmd.Flags().GetStringArray("label")
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		v, err := c.CreateVolume(context.Background(), args[0], driver, labelMap(labelSpecs))
		if err != nil {
			return err
		}
		fmt.Printf("✓ Created volume %s\n", v.Name)
		return nil
	},
}

func init() {
	volumeCreateCmd.Flags().String("driver", "local", "Volume driver")
	volumeCreateCmd.Flags().StringArray("label", nil, "Label KEY=VALUE (repeatable)")
}

var volumeListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		vols, err := c.ListVolumes(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-10s %-8s %s\n", "NAME", "DRIVER", "REFS", "CREATED")
		for _, v := range vols {
			fmt.Printf("%-20s %-10s %-8d %s\n", v.Name, v.Driver, v.RefCount, v.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var volumeInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show detailed volume information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		v, err := c.InspectVolume(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:      %s\n", v.Name)
		fmt.Printf("Driver:    %s\n", v.Driver)
		fmt.Printf("RefCount:  %d\n", v.RefCount)
		fmt.Printf("Anonymous: %v\n", v.Anonymous)
		return nil
	},
}

var volumeRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.RemoveVolume(context.Background(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("✓ Removed volume %s\n", args[0])
		return nil
	},
}

func init() {
	volumeRmCmd.Flags().Bool("force", false, "Remove even if attached")
}

var volumePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove unused volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		removed, err := c.PruneVolumes(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Removed %d volume(s)\n", len(removed))
		return nil
	},
}
