package account

import (
	"fmt"
	"net/url"
)

// Endpoint paths of the content API.
const (
	pathUsers         = "/api2/v2/users/"
	pathSubscriptions = "/api2/v2/subscriptions/subscribes"
	pathChats         = "/api2/v2/chats"
	pathMassMessages  = "/api2/v2/messages/queue/stats"
	pathPaid          = "/api2/v2/posts/paid"
	pathLists         = "/api2/v2/lists"
)

func userLink(identifier string) string {
	return pathUsers + url.PathEscape(identifier)
}

func subscriptionsLink() string {
	return pathSubscriptions + "?type=active"
}

func chatsLink() string {
	return pathChats + "?order=recent"
}

func massMessagesLink() string {
	return pathMassMessages + "?format=infinite"
}

func paidLink() string {
	return pathPaid
}

func listUsersLink(listID int64) string {
	return fmt.Sprintf("%s/%d/users", pathLists, listID)
}
