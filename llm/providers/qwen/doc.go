// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 qwen 提供阿里巴巴通义千问（Qwen）系列模型的 Provider 适配实现，
基于 OpenAI 兼容协议接入 DashScope API。

# 概述

Qwen Provider 复用 openaicompat 基础设施，通过 DashScope 的
compatible-mode 端点实现与 OpenAI API 格式一致的调用。默认模型为
qwen3-235b-a22b，支持文本补全与流式输出。

# 核心接口

  - QwenProvider — 嵌入 openaicompat.Provider，继承补全与流式能力。

# 主要能力

  - OpenAI 兼容：基于 /compatible-mode/v1/ 端点，请求与响应格式与
    OpenAI API 保持一致，降低迁移成本。
*/
package qwen
