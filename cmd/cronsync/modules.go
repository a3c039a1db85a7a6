package main

// Compiled-in modules. Each registers itself with core from init.
import (
	_ "github.com/flemzord/cronsync/internal/gateway"
	_ "github.com/flemzord/cronsync/modules/runner/kafka"
	_ "github.com/flemzord/cronsync/modules/runner/shell"
	_ "github.com/flemzord/cronsync/modules/scheduler"
	_ "github.com/flemzord/cronsync/modules/store/postgres"
	_ "github.com/flemzord/cronsync/modules/store/sqlite"
	_ "github.com/flemzord/cronsync/modules/watermark/redis"
)
