package domain

// Message is an outbound notification addressed to a single session.
type Message interface {
	MessageType() string
}

type HostAssigned struct {
	HostID HostID `json:"host_id"`
}

type ReliablePong struct{}

type P2PGroupMemberJoin struct {
	GroupID      GroupID `json:"group_id"`
	MemberHostID HostID  `json:"member_host_id"`
	EventID      EventID `json:"event_id"`
}

type P2PGroupMemberLeave struct {
	GroupID      GroupID `json:"group_id"`
	MemberHostID HostID  `json:"member_host_id"`
}

// P2PRecycleComplete tells a peer that both sides acknowledged the join with OtherHostID.
type P2PRecycleComplete struct {
	OtherHostID HostID `json:"other_host_id"`
}

// HolepunchReport carries the four endpoints observed during a punch between A and B.
type HolepunchReport struct {
	HostA      HostID   `json:"host_a"`
	HostB      HostID   `json:"host_b"`
	ABSendAddr Endpoint `json:"ab_send_addr"`
	ABRecvAddr Endpoint `json:"ab_recv_addr"`
	BASendAddr Endpoint `json:"ba_send_addr"`
	BARecvAddr Endpoint `json:"ba_recv_addr"`
}

// NotifyDirectP2PEstablish is sent, identical, to both peers of a punched pair.
type NotifyDirectP2PEstablish struct {
	HolepunchReport
}

type NewDirectP2PConnection struct {
	OtherHostID HostID `json:"other_host_id"`
}

type RelaySocketCreated struct {
	PublicAddress string `json:"public_address"`
	Port          uint16 `json:"port"`
}

type RequestStartServerHolepunch struct {
	Token HolepunchToken `json:"token"`
}

type ServerHolepunchAck struct {
	Token           HolepunchToken `json:"token"`
	ObservedAddress Endpoint       `json:"observed_address"`
}

func (HostAssigned) MessageType() string                { return "host_assigned" }
func (ReliablePong) MessageType() string                { return "reliable_pong" }
func (P2PGroupMemberJoin) MessageType() string          { return "p2p_group_member_join" }
func (P2PGroupMemberLeave) MessageType() string         { return "p2p_group_member_leave" }
func (P2PRecycleComplete) MessageType() string          { return "p2p_recycle_complete" }
func (NotifyDirectP2PEstablish) MessageType() string    { return "notify_direct_p2p_establish" }
func (NewDirectP2PConnection) MessageType() string      { return "new_direct_p2p_connection" }
func (RelaySocketCreated) MessageType() string          { return "relay_socket_created" }
func (RequestStartServerHolepunch) MessageType() string { return "request_start_server_holepunch" }
func (ServerHolepunchAck) MessageType() string          { return "server_holepunch_ack" }
