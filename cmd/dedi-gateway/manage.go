package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Firefox2100/dedi-gateway/pkg/client"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

const defaultManageAddr = "http://127.0.0.1:5321"

func manageClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

// Network commands
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage federation networks",
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List networks on this gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		networks, err := manageClient(cmd).ListNetworks()
		if err != nil {
			return fmt.Errorf("failed to list networks: %v", err)
		}

		if len(networks) == 0 {
			fmt.Println("No networks configured")
			return nil
		}

		for _, network := range networks {
			state := "unregistered"
			if network.Registered {
				state = "registered"
			}
			visibility := "hidden"
			if network.Visible {
				visibility = "visible"
			}
			fmt.Printf("%s  %s (%s, %s, %d nodes)\n",
				network.ID, network.Name, state, visibility, len(network.NodeIDs))
		}
		return nil
	},
}

var networkShowCmd = &cobra.Command{
	Use:   "show NETWORK-ID",
	Short: "Show one network in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := manageClient(cmd).GetNetwork(args[0])
		if err != nil {
			return fmt.Errorf("failed to get network: %v", err)
		}

		fmt.Printf("ID:           %s\n", network.ID)
		fmt.Printf("Name:         %s\n", network.Name)
		fmt.Printf("Description:  %s\n", network.Description)
		fmt.Printf("Registered:   %t\n", network.Registered)
		fmt.Printf("Visible:      %t\n", network.Visible)
		fmt.Printf("Instance ID:  %s\n", network.InstanceID)
		if network.CentralNode != "" {
			fmt.Printf("Central node: %s\n", network.CentralNode)
		}
		if len(network.NodeIDs) > 0 {
			fmt.Printf("Nodes:        %s\n", strings.Join(network.NodeIDs, ", "))
		}
		return nil
	},
}

var networkCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new network with this gateway as first member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		visible, _ := cmd.Flags().GetBool("visible")
		centralised, _ := cmd.Flags().GetBool("centralised")

		network, err := manageClient(cmd).CreateNetwork(client.NetworkOptions{
			Name:        args[0],
			Description: description,
			Visible:     visible,
			Centralised: centralised,
		})
		if err != nil {
			return fmt.Errorf("failed to create network: %v", err)
		}

		fmt.Printf("✓ Network created: %s (ID: %s)\n", network.Name, network.ID)
		return nil
	},
}

var networkUpdateCmd = &cobra.Command{
	Use:   "update NETWORK-ID",
	Short: "Update network name, description or visibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch client.NetworkPatch
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			patch.Name = &name
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			patch.Description = &description
		}
		if cmd.Flags().Changed("visible") {
			visible, _ := cmd.Flags().GetBool("visible")
			patch.Visible = &visible
		}

		network, err := manageClient(cmd).UpdateNetwork(args[0], patch)
		if err != nil {
			return fmt.Errorf("failed to update network: %v", err)
		}

		fmt.Printf("✓ Network updated: %s\n", network.ID)
		return nil
	},
}

var networkRemoveCmd = &cobra.Command{
	Use:   "remove NETWORK-ID",
	Short: "Remove a network and its local state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manageClient(cmd).DeleteNetwork(args[0]); err != nil {
			return fmt.Errorf("failed to remove network: %v", err)
		}

		fmt.Printf("✓ Network removed: %s\n", args[0])
		return nil
	},
}

var networkJoinCmd = &cobra.Command{
	Use:   "join TARGET-URL",
	Short: "Request admission to a network hosted by another gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		networkID, _ := cmd.Flags().GetString("network")
		justification, _ := cmd.Flags().GetString("justification")

		record, err := manageClient(cmd).JoinNetwork(args[0], networkID, justification)
		if err != nil {
			return fmt.Errorf("failed to join network: %v", err)
		}

		fmt.Printf("✓ Join request sent: %s\n", record.MessageID)
		fmt.Printf("  Status: %s\n", record.Status)
		if record.RequiresPolling {
			fmt.Println("  The target cannot push the decision back; it will be collected by polling")
		}
		return nil
	},
}

var networkInviteCmd = &cobra.Command{
	Use:   "invite TARGET-URL",
	Short: "Invite another gateway into a network this gateway belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		networkID, _ := cmd.Flags().GetString("network")
		justification, _ := cmd.Flags().GetString("justification")

		record, err := manageClient(cmd).InviteNode(args[0], networkID, justification)
		if err != nil {
			return fmt.Errorf("failed to invite node: %v", err)
		}

		fmt.Printf("✓ Invite sent: %s\n", record.MessageID)
		fmt.Printf("  Status: %s\n", record.Status)
		return nil
	},
}

func init() {
	networkCmd.PersistentFlags().String("addr", defaultManageAddr, "Gateway management address")

	networkCmd.AddCommand(networkListCmd)
	networkCmd.AddCommand(networkShowCmd)
	networkCmd.AddCommand(networkCreateCmd)
	networkCmd.AddCommand(networkUpdateCmd)
	networkCmd.AddCommand(networkRemoveCmd)
	networkCmd.AddCommand(networkJoinCmd)
	networkCmd.AddCommand(networkInviteCmd)

	networkCreateCmd.Flags().String("description", "", "Network description")
	networkCreateCmd.Flags().Bool("visible", true, "Advertise the network to unauthenticated visitors")
	networkCreateCmd.Flags().Bool("centralised", false, "Route all admissions through this gateway")

	networkUpdateCmd.Flags().String("name", "", "New network name")
	networkUpdateCmd.Flags().String("description", "", "New network description")
	networkUpdateCmd.Flags().Bool("visible", true, "New visibility")

	networkJoinCmd.Flags().String("network", "", "Network ID on the target gateway")
	networkJoinCmd.Flags().String("justification", "", "Reason shown to the target's operator")
	_ = networkJoinCmd.MarkFlagRequired("network")

	networkInviteCmd.Flags().String("network", "", "Network ID on this gateway")
	networkInviteCmd.Flags().String("justification", "", "Reason shown to the target's operator")
	_ = networkInviteCmd.MarkFlagRequired("network")

	rootCmd.AddCommand(networkCmd)
}

// Request commands
var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage admission requests",
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admission requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sent *bool
		if cmd.Flags().Changed("sent") {
			value, _ := cmd.Flags().GetBool("sent")
			sent = &value
		}
		var statuses []string
		if filter, _ := cmd.Flags().GetString("status"); filter != "" {
			statuses = strings.Split(filter, ",")
		}

		records, err := manageClient(cmd).ListRequests(sent, statuses)
		if err != nil {
			return fmt.Errorf("failed to list requests: %v", err)
		}

		if len(records) == 0 {
			fmt.Println("No admission requests")
			return nil
		}

		for _, record := range records {
			if record.TargetURL != "" {
				fmt.Printf("%s  %s  (sent to %s)\n", record.MessageID, record.Status, record.TargetURL)
			} else {
				fmt.Printf("%s  %s  (received)\n", record.MessageID, record.Status)
			}
		}
		return nil
	},
}

var requestApproveCmd = &cobra.Command{
	Use:   "approve REQUEST-ID",
	Short: "Approve a pending admission request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		justification, _ := cmd.Flags().GetString("justification")

		if err := manageClient(cmd).DecideRequest(args[0], true, justification); err != nil {
			return fmt.Errorf("failed to approve request: %v", err)
		}

		fmt.Printf("✓ Request approved: %s\n", args[0])
		return nil
	},
}

var requestRejectCmd = &cobra.Command{
	Use:   "reject REQUEST-ID",
	Short: "Reject a pending admission request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		justification, _ := cmd.Flags().GetString("justification")

		if err := manageClient(cmd).DecideRequest(args[0], false, justification); err != nil {
			return fmt.Errorf("failed to reject request: %v", err)
		}

		fmt.Printf("✓ Request rejected: %s\n", args[0])
		return nil
	},
}

func init() {
	requestCmd.PersistentFlags().String("addr", defaultManageAddr, "Gateway management address")

	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestApproveCmd)
	requestCmd.AddCommand(requestRejectCmd)

	requestListCmd.Flags().Bool("sent", false, "Only sent (true) or received (false) requests")
	requestListCmd.Flags().String("status", "", "Comma-separated status filter (pending,accepted,rejected)")

	requestApproveCmd.Flags().String("justification", "", "Reason recorded with the decision")
	requestRejectCmd.Flags().String("justification", "", "Reason recorded with the decision")

	rootCmd.AddCommand(requestCmd)
}

// Message commands
var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send catalog-defined messages to peers",
}

var messageSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message to one node or broadcast it to a network",
	RunE: func(cmd *cobra.Command, args []string) error {
		networkID, _ := cmd.Flags().GetString("network")
		messageType, _ := cmd.Flags().GetString("message")
		targetNode, _ := cmd.Flags().GetString("node")
		broadcast, _ := cmd.Flags().GetBool("broadcast")
		userID, _ := cmd.Flags().GetString("user")
		rawData, _ := cmd.Flags().GetString("data")

		data := map[string]any{}
		if rawData != "" {
			if err := json.Unmarshal([]byte(rawData), &data); err != nil {
				return fmt.Errorf("failed to parse message data: %v", err)
			}
		}

		result, err := manageClient(cmd).SendMessage(client.SendOptions{
			NetworkID:  networkID,
			Message:    messageType,
			TargetNode: targetNode,
			Broadcast:  broadcast,
			Data:       data,
			UserID:     userID,
		})
		if err != nil {
			return fmt.Errorf("failed to send message: %v", err)
		}

		fmt.Printf("✓ Message delivered to %d node(s)\n", result.Delivered)
		for _, response := range result.Responses {
			fmt.Printf("  %s\n", string(response))
		}
		return nil
	},
}

func init() {
	messageCmd.PersistentFlags().String("addr", defaultManageAddr, "Gateway management address")

	messageCmd.AddCommand(messageSendCmd)

	messageSendCmd.Flags().String("network", "", "Network to send within")
	messageSendCmd.Flags().String("message", "", "Catalog message type")
	messageSendCmd.Flags().String("node", "", "Target node ID")
	messageSendCmd.Flags().Bool("broadcast", false, "Send to every connected member")
	messageSendCmd.Flags().String("data", "", "Message payload as inline JSON")
	messageSendCmd.Flags().String("user", "", "User ID to attach to the message")
	_ = messageSendCmd.MarkFlagRequired("network")
	_ = messageSendCmd.MarkFlagRequired("message")

	rootCmd.AddCommand(messageCmd)
}

// Index commands
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the advertised data index",
}

var indexShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the data index peers receive during sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := manageClient(cmd).DataIndex()
		if err != nil {
			return fmt.Errorf("failed to get data index: %v", err)
		}

		pretty, err := json.MarshalIndent(index, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format data index: %v", err)
		}

		fmt.Println(string(pretty))
		return nil
	},
}

var indexSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the data index from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}

		var index map[string]any
		if err := json.Unmarshal(data, &index); err != nil {
			return fmt.Errorf("failed to parse index file: %v", err)
		}

		if err := manageClient(cmd).SetDataIndex(index); err != nil {
			return fmt.Errorf("failed to set data index: %v", err)
		}

		fmt.Println("✓ Data index updated")
		return nil
	},
}

func init() {
	indexCmd.PersistentFlags().String("addr", defaultManageAddr, "Gateway management address")

	indexCmd.AddCommand(indexShowCmd)
	indexCmd.AddCommand(indexSetCmd)

	indexSetCmd.Flags().StringP("file", "f", "", "JSON file with the new index (required)")
	_ = indexSetCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(indexCmd)
}

// User commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and the inbound user mapping",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users known to this gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := manageClient(cmd).ListUsers()
		if err != nil {
			return fmt.Errorf("failed to list users: %v", err)
		}

		if len(users) == 0 {
			fmt.Println("No users registered")
			return nil
		}

		for _, user := range users {
			fmt.Println(user.UserID)
		}
		return nil
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create USER-ID",
	Short: "Create a user and generate their signing key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := manageClient(cmd).CreateUser(args[0])
		if err != nil {
			return fmt.Errorf("failed to create user: %v", err)
		}

		fmt.Printf("✓ User created: %s\n", user.UserID)
		if user.PublicKey != "" {
			fmt.Println(user.PublicKey)
		}
		return nil
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove USER-ID",
	Short: "Remove a user and their key material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manageClient(cmd).DeleteUser(args[0]); err != nil {
			return fmt.Errorf("failed to remove user: %v", err)
		}

		fmt.Printf("✓ User removed: %s\n", args[0])
		return nil
	},
}

var userMappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage how foreign user IDs map to local ones",
}

var userMappingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active user mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := manageClient(cmd).UserMapping()
		if err != nil {
			return fmt.Errorf("failed to get user mapping: %v", err)
		}

		fmt.Printf("Type: %s\n", mapping.Type)
		switch mapping.Type {
		case types.UserMappingStatic:
			fmt.Printf("Static ID: %s\n", mapping.StaticID)
		case types.UserMappingDynamic:
			for foreign, local := range mapping.DynamicMapping {
				fmt.Printf("  %s -> %s\n", foreign, local)
			}
		}
		return nil
	},
}

var userMappingSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the user mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		mappingType, _ := cmd.Flags().GetString("type")
		staticID, _ := cmd.Flags().GetString("static-id")
		tableFile, _ := cmd.Flags().GetString("table")

		mapping := types.UserMapping{
			Type:     types.UserMappingType(mappingType),
			StaticID: staticID,
		}
		if tableFile != "" {
			data, err := os.ReadFile(tableFile)
			if err != nil {
				return fmt.Errorf("failed to read mapping table: %v", err)
			}
			if err := json.Unmarshal(data, &mapping.DynamicMapping); err != nil {
				return fmt.Errorf("failed to parse mapping table: %v", err)
			}
		}

		if err := manageClient(cmd).SetUserMapping(mapping); err != nil {
			return fmt.Errorf("failed to set user mapping: %v", err)
		}

		fmt.Printf("✓ User mapping set to %s\n", mapping.Type)
		return nil
	},
}

func init() {
	userCmd.PersistentFlags().String("addr", defaultManageAddr, "Gateway management address")

	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userRemoveCmd)
	userCmd.AddCommand(userMappingCmd)

	userMappingCmd.AddCommand(userMappingShowCmd)
	userMappingCmd.AddCommand(userMappingSetCmd)

	userMappingSetCmd.Flags().String("type", string(types.UserMappingNone), "Mapping type (noMapping, static, dynamic)")
	userMappingSetCmd.Flags().String("static-id", "", "Local ID every foreign ID maps to (static type)")
	userMappingSetCmd.Flags().String("table", "", "JSON file with a foreign-to-local ID table (dynamic type)")

	rootCmd.AddCommand(userCmd)
}
