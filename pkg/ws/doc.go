// Package ws 提供 WebSocket 客户端连接与连接池。
//
// # 特性
//
//   - 每个 URL 一条物理连接，由 Pool 共享给所有数据源绑定
//   - 异常断开（关闭码非 1000/1001）按指数退避自动重连，超过次数后停止
//   - 断线期间 Send/Publish 的消息进入有界队列（满时丢弃最旧），重连后按原顺序先于新消息发送
//   - 按主题订阅，重连后自动补发全部订阅
//   - presence 消息派发到 "<topic>:presence"
//
// # 基本用法
//
//	pool := ws.NewPool(
//	    ws.WithReconnect(time.Second, 30*time.Second, 10),
//	    ws.WithTokenProvider(func() (string, error) { return session.Token(), nil }),
//	)
//	defer pool.CloseAll()
//
//	conn, err := pool.Get("wss://example.com/realtime")
//	if err != nil {
//	    return err
//	}
//	_ = conn.Connect()
//
//	sub := conn.Subscribe("orders", func(data json.RawMessage) {
//	    // 处理推送
//	})
//	defer sub.Unsubscribe()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := conn.WaitConnected(ctx); err != nil {
//	    return err
//	}
//	_ = conn.Publish("orders", map[string]any{"action": "refresh"})
//
// # 消息格式
//
//	{"type":"message","topic":"orders","data":{...},"timestamp":1700000000000,"messageId":"..."}
//
// 客户端发送 subscribe / unsubscribe / publish / ping，
// 服务端发送 message / subscribed / unsubscribed / error / pong / presence。
package ws
