/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package client

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Node is one selectable endpoint from the client's `list` output
// Node 是客户端 list 输出中的一个可选节点
type Node struct {
	// ID is the client's opaque node identifier / 客户端的节点标识
	ID string `json:"id"`

	// Status is the availability flag as printed by the client
	// Status 是客户端打印的可用性标志
	Status string `json:"status"`

	// City and Num form the human-facing label / 城市与编号构成标签
	City string `json:"city"`
	Num  int    `json:"num"`

	// Label is "<city> #<num>", the form connect accepts
	// Label 是 "<city> #<num>"，connect 接受的形式
	Label string `json:"label"`
}

// Available reports whether the node can be connected to. The client
// prints "ok" for usable nodes; "available" is accepted for older
// builds that spelled it out.
// Available 报告节点是否可连接。客户端对可用节点打印 "ok"；旧版本
// 写作 "available"，同样接受。
func (n Node) Available() bool {
	return strings.EqualFold(n.Status, "ok") || strings.EqualFold(n.Status, "available")
}

// AccountSummary is the trailing account block of `list` output
// AccountSummary 是 list 输出末尾的账户信息块
type AccountSummary struct {
	WebSite     string `json:"web_site,omitempty"`
	LoginResult string `json:"login_result,omitempty"`
	Membership  string `json:"membership,omitempty"`
	Expiration  string `json:"expiration,omitempty"`
}

// Listing is the parsed result of one `list` invocation
// Listing 是一次 list 调用的解析结果
type Listing struct {
	Nodes   []Node         `json:"nodes"`
	Account AccountSummary `json:"account"`
}

// Node lines look like:
//
//	4f2a  ok  Tokyo  #3
//
// id and status are single tokens; the city may not contain spaces in
// practice, the label is reconstructed from city and num.
// 节点行形如 "4f2a  ok  Tokyo  #3"：id 和 status 为单个令牌，
// 标签由城市和编号重建。
var nodeLineRe = regexp.MustCompile(`^(?P<id>\S+)\s+(?P<status>\S+)\s+(?P<city>\S+)\s+#(?P<num>\d+)\s*$`)

// Summary lines look like "Web Site: https://..."
// 汇总行形如 "Web Site: https://..."
var summaryLineRe = regexp.MustCompile(`^(?P<key>Web Site|Login Result|Membership|Expiration)\s*:\s*(?P<val>.*)$`)

// ParseListing extracts nodes and the account summary from raw `list`
// output. Unrecognized lines are ignored; the client mixes banner text
// into its output.
// ParseListing 从原始 list 输出中提取节点和账户信息。无法识别的行被
// 忽略；客户端的输出中夹杂横幅文字。
func ParseListing(output string) Listing {
	var listing Listing

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := nodeLineRe.FindStringSubmatch(line); m != nil {
			num, err := strconv.Atoi(m[4])
			if err != nil {
				continue
			}
			listing.Nodes = append(listing.Nodes, Node{
				ID:     m[1],
				Status: m[2],
				City:   m[3],
				Num:    num,
				Label:  fmt.Sprintf("%s #%d", m[3], num),
			})
			continue
		}

		if m := summaryLineRe.FindStringSubmatch(line); m != nil {
			val := strings.TrimSpace(m[2])
			switch m[1] {
			case "Web Site":
				listing.Account.WebSite = val
			case "Login Result":
				listing.Account.LoginResult = val
			case "Membership":
				listing.Account.Membership = val
			case "Expiration":
				listing.Account.Expiration = val
			}
		}
	}

	return listing
}

// FindLabel returns the node carrying the given label
// FindLabel 返回携带给定标签的节点
func (l Listing) FindLabel(label string) (Node, bool) {
	for _, n := range l.Nodes {
		if n.Label == label {
			return n, true
		}
	}
	return Node{}, false
}
